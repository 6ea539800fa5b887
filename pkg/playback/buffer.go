package playback

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrAppendBusy is returned when Append is called while a previous
	// append has not completed.
	ErrAppendBusy = errors.New("playback: append already in progress")
	// ErrBufferClosed is returned when appending to a closed buffer.
	ErrBufferClosed = errors.New("playback: buffer closed")
)

// appendBuffer is a bounded in-memory PCM buffer. The output handle
// pulls from it via Read while the session pushes chunks via Append.
// Append blocks when the buffer holds maxBuffered or more unread
// bytes, which is the backpressure signal for the incremental path.
type appendBuffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	data      []byte
	max       int
	appending bool
	closed    bool
	discard   bool
}

func newAppendBuffer(max int) *appendBuffer {
	b := &appendBuffer{max: max}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append queues chunk for the reader. It blocks while the buffer is
// full and returns ErrBufferClosed once the buffer has been closed.
// A second Append while one is still blocked is a caller bug and
// fails with ErrAppendBusy.
func (b *appendBuffer) Append(chunk []byte) error {
	b.mu.Lock()
	if b.appending {
		b.mu.Unlock()
		return ErrAppendBusy
	}
	b.appending = true
	defer func() {
		b.appending = false
		b.mu.Unlock()
	}()

	for !b.closed && len(b.data) >= b.max {
		b.cond.Wait()
	}
	if b.closed {
		return ErrBufferClosed
	}
	b.data = append(b.data, chunk...)
	b.cond.Broadcast()
	return nil
}

// Read hands buffered bytes to the output. It blocks until data is
// available or the buffer is closed, then returns io.EOF once drained.
func (b *appendBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 || b.discard {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	b.cond.Broadcast()
	return n, nil
}

// Close marks end-of-stream. Buffered bytes already appended are still
// readable so the output can drain naturally.
func (b *appendBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// CloseDiscard closes the buffer and drops any unread bytes, used when
// playback is being torn down rather than drained.
func (b *appendBuffer) CloseDiscard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.discard = true
	b.data = nil
	b.cond.Broadcast()
}

// Len reports the number of unread bytes.
func (b *appendBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
