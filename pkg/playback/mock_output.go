package playback

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockOutput is an in-memory Output for tests. Each handle consumes
// its reader in a goroutine and records the bytes it "played".
type MockOutput struct {
	mu       sync.Mutex
	cfg      OutputConfig
	handles  []*MockHandle
	failNext bool
}

func NewMockOutput() *MockOutput {
	return &MockOutput{cfg: DefaultOutputConfig()}
}

// SetFormat overrides the reported device format.
func (m *MockOutput) SetFormat(cfg OutputConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *MockOutput) Format() OutputConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// FailNext makes the next NewHandle call return an error.
func (m *MockOutput) FailNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

func (m *MockOutput) NewHandle(r io.Reader) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return nil, errors.New("mock output: handle open failed")
	}
	h := &MockHandle{r: r, done: make(chan struct{})}
	m.handles = append(m.handles, h)
	return h, nil
}

func (m *MockOutput) Close() error { return nil }

// Handles returns every handle opened so far, in open order.
func (m *MockOutput) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// MockHandle plays by copying its source reader into a buffer.
type MockHandle struct {
	mu      sync.Mutex
	r       io.Reader
	played  bytes.Buffer
	started bool
	closed  bool
	done    chan struct{}
}

func (h *MockHandle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.closed {
		return
	}
	h.started = true
	go h.consume()
}

func (h *MockHandle) consume() {
	defer close(h.done)
	buf := make([]byte, 1024)
	for {
		n, err := h.r.Read(buf)
		if n > 0 {
			h.mu.Lock()
			if h.closed {
				h.mu.Unlock()
				return
			}
			h.played.Write(buf[:n])
			h.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (h *MockHandle) IsPlaying() bool {
	h.mu.Lock()
	started, closed := h.started, h.closed
	h.mu.Unlock()
	if !started || closed {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Played returns a copy of the bytes consumed so far.
func (h *MockHandle) Played() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, h.played.Len())
	copy(out, h.played.Bytes())
	return out
}

// WaitDone blocks until the handle finishes consuming its source.
func (h *MockHandle) WaitDone(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Closed reports whether Close was called.
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
