package playback

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmura-ai/murmura/pkg/metrics"
)

const (
	defaultChunkSize   = 4096
	defaultMaxBuffered = 256 * 1024
)

var errSessionStopped = errors.New("playback: session stopped")

// Session plays a single Item through an Output. It owns the item's
// live resources and is torn down completely before the next item
// starts. At most one session is live per queue.
//
// Lifecycle: Pending -> Appending -> Draining -> Ended for the
// incremental path, Pending -> Draining -> Ended for the buffered
// path, with Errored replacing Ended on failure. Stop forces the
// session to Ended from any state.
type Session struct {
	item   Item
	output Output
	obs    metrics.Observer
	logger *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	buf     *appendBuffer
	handle  Handle
	stopped bool
}

func newSession(item Item, output Output, obs metrics.Observer, logger *slog.Logger) *Session {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Session{item: item, output: output, obs: obs, logger: logger}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run plays the item to completion and blocks until the session has
// fully ended. A playback error is returned for logging; the queue
// treats it as completion either way.
func (s *Session) Run() error {
	strat := pickStrategy(s.item.ContentType)

	var err error
	if strat == strategyBuffered {
		err = s.runBuffered()
	} else {
		err = s.runIncremental()
	}
	_ = s.item.Body.Close()

	if err != nil && !errors.Is(err, errSessionStopped) {
		s.finish(StateErrored)
		s.release()
		return err
	}
	s.drain()
	s.finish(StateEnded)
	s.release()
	return nil
}

// runBuffered reads and decodes the whole body, then hands the
// complete PCM buffer to the output in one piece.
func (s *Session) runBuffered() error {
	pcm, err := decodeBuffered(s.item.ContentType, s.item.Body, s.output.Format())
	if err != nil {
		return err
	}
	handle, err := s.attach(newMemReader(pcm))
	if err != nil {
		return err
	}
	s.state.Store(int32(StateDraining))
	handle.Play()
	return nil
}

// runIncremental streams body chunks into a bounded append buffer the
// output pulls from, so audio starts before the download finishes.
// Append blocks on the buffer's backpressure; a rejected append or a
// body read error discards the remainder and forces a graceful
// end-of-stream instead of hanging.
func (s *Session) runIncremental() error {
	buf := newAppendBuffer(defaultMaxBuffered)
	s.mu.Lock()
	s.buf = buf
	s.mu.Unlock()

	handle, err := s.attach(buf)
	if err != nil {
		return err
	}
	handle.Play()

	body := s.item.Body
	if isWAV(s.item.ContentType) {
		// The RIFF header prefixes the PCM on streaming responses.
		var header [wavHeaderLen]byte
		if _, err := io.ReadFull(body, header[:]); err != nil {
			s.logger.Warn("short audio stream before wav header", "seq", s.item.Seq, "error", err)
			buf.Close()
			s.state.Store(int32(StateDraining))
			return nil
		}
	}

	chunk := make([]byte, defaultChunkSize)
	first := true
	for {
		n, rerr := body.Read(chunk)
		if n > 0 {
			s.state.Store(int32(StateAppending))
			if aerr := buf.Append(chunk[:n]); aerr != nil {
				s.logger.Warn("append rejected, ending item early", "seq", s.item.Seq, "error", aerr)
				s.record(metrics.EventPlaybackAppend, map[string]string{metrics.TagReason: aerr.Error()})
				break
			}
			if first {
				first = false
				s.record(metrics.EventFirstAudio, nil)
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				// A poisoned or broken stream plays out whatever
				// already arrived.
				s.logger.Warn("audio stream read failed, ending item early", "seq", s.item.Seq, "error", rerr)
			}
			break
		}
	}

	buf.Close()
	s.state.Store(int32(StateDraining))
	return nil
}

// drain waits for the output handle to finish playing buffered audio.
func (s *Session) drain() {
	for {
		s.mu.Lock()
		handle, stopped := s.handle, s.stopped
		s.mu.Unlock()
		if handle == nil || stopped || !handle.IsPlaying() {
			return
		}
		time.Sleep(drainPoll)
	}
}

// Stop tears the session down synchronously: audible output stops and
// resources are released before Stop returns. Safe to call at any
// point, including mid-append.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	buf, handle := s.buf, s.handle
	s.mu.Unlock()

	if buf != nil {
		buf.CloseDiscard()
	}
	if handle != nil {
		_ = handle.Close()
	}
	_ = s.item.Body.Close()
	s.state.Store(int32(StateEnded))
}

func (s *Session) attach(r io.Reader) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errSessionStopped
	}
	handle, err := s.output.NewHandle(r)
	if err != nil {
		return nil, err
	}
	s.handle = handle
	return handle, nil
}

func (s *Session) finish(st State) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		st = StateEnded
	}
	s.state.Store(int32(st))
}

func (s *Session) release() {
	s.mu.Lock()
	buf, handle := s.buf, s.handle
	s.buf, s.handle = nil, nil
	s.mu.Unlock()
	if buf != nil {
		buf.CloseDiscard()
	}
	if handle != nil {
		_ = handle.Close()
	}
}

func (s *Session) record(name string, extra map[string]string) {
	tags := map[string]string{
		metrics.TagComponent:   "playback",
		metrics.TagSeq:         strconv.FormatUint(s.item.Seq, 10),
		metrics.TagContentType: s.item.ContentType,
	}
	for k, v := range extra {
		tags[k] = v
	}
	s.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}

// memReader wraps a fully decoded PCM buffer for the output, keeping
// the data referenced until the handle is done with it.
type memReader struct {
	data []byte
	off  int
	mu   sync.Mutex
}

func newMemReader(data []byte) *memReader {
	return &memReader{data: data}
}

func (m *memReader) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.off >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.off:])
	m.off += n
	return n, nil
}
