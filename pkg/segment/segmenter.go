package segment

import (
	"strings"
	"sync"
	"time"
)

// Unit is one emitted sentence (or clause) with its sequence number.
// Sequence numbers are strictly increasing and never reused, including
// across Reset.
type Unit struct {
	Seq  uint64
	Text string
}

// Boundary characters. Clause marks are included on purpose: emitting at
// commas and semicolons keeps synthesis latency low for long sentences.
const terminators = ".!?,;:"

type Config struct {
	MinLen         int
	SilenceTimeout time.Duration
	MaxHistory     int
}

// Segmenter accumulates streamed tokens and cuts them into speakable units.
// Emission happens synchronously inside FeedToken when a boundary is seen,
// or from the silence timer when the token stream stalls.
type Segmenter struct {
	mu        sync.Mutex
	cfg       Config
	sb        strings.Builder
	lastToken time.Time
	timer     *time.Timer
	timerGen  uint64
	seq       uint64
	emit      func(Unit)
	silent    func(Unit)
	history   []string
}

func New(cfg Config, emit func(Unit)) *Segmenter {
	if cfg.MinLen <= 0 {
		cfg.MinLen = 1
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 800 * time.Millisecond
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 10
	}
	if emit == nil {
		emit = func(Unit) {}
	}
	return &Segmenter{cfg: cfg, emit: emit}
}

// SetSilenceHook registers an optional callback invoked before the regular
// emit path when a unit is forced out by the silence timer. Timer emissions
// always still reach the emit callback.
func (s *Segmenter) SetSilenceHook(fn func(Unit)) {
	s.mu.Lock()
	s.silent = fn
	s.mu.Unlock()
}

// FeedToken appends token to the pending buffer and emits at most one Unit.
// Every call rearms the silence timer.
func (s *Segmenter) FeedToken(token string) {
	s.mu.Lock()
	s.sb.WriteString(token)
	s.lastToken = time.Now()

	raw := s.sb.String()
	trimmed := strings.TrimSpace(raw)
	if s.atBoundary(raw, trimmed) && len(trimmed) >= s.cfg.MinLen {
		unit := s.takeLocked(trimmed)
		s.stopTimerLocked()
		s.mu.Unlock()
		s.emit(unit)
		return
	}
	s.armTimerLocked()
	s.mu.Unlock()
}

// Flush force-emits any non-empty remainder. Used when the token stream ends.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	trimmed := strings.TrimSpace(s.sb.String())
	if trimmed == "" {
		s.stopTimerLocked()
		s.mu.Unlock()
		return
	}
	unit := s.takeLocked(trimmed)
	s.stopTimerLocked()
	s.mu.Unlock()
	s.emit(unit)
}

// Reset discards the buffer without emitting. Used on interrupt.
// Sequence numbering continues; only the text is dropped.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.sb.Reset()
	s.stopTimerLocked()
	s.mu.Unlock()
}

// Pending returns the current buffered text, trimmed. Observation only.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.sb.String())
}

// History returns the most recently emitted units, oldest first.
func (s *Segmenter) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Segmenter) atBoundary(raw, trimmed string) bool {
	if trimmed == "" {
		return false
	}
	// TrimSpace eats a trailing newline, so test it on the raw buffer.
	if strings.HasSuffix(raw, "\n") {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return strings.IndexByte(terminators, last) >= 0
}

// takeLocked builds the next Unit from text and clears the buffer.
func (s *Segmenter) takeLocked(text string) Unit {
	s.seq++
	s.sb.Reset()
	s.history = append(s.history, text)
	if len(s.history) > s.cfg.MaxHistory {
		s.history = s.history[len(s.history)-s.cfg.MaxHistory:]
	}
	return Unit{Seq: s.seq, Text: text}
}

func (s *Segmenter) armTimerLocked() {
	s.timerGen++
	gen := s.timerGen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.SilenceTimeout, func() {
		s.fireTimer(gen)
	})
}

func (s *Segmenter) stopTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Segmenter) fireTimer(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		// Rearmed or stopped after this timer was scheduled.
		s.mu.Unlock()
		return
	}
	trimmed := strings.TrimSpace(s.sb.String())
	if trimmed == "" {
		s.mu.Unlock()
		return
	}
	unit := s.takeLocked(trimmed)
	silent := s.silent
	s.mu.Unlock()
	if silent != nil {
		silent(unit)
	}
	s.emit(unit)
}
