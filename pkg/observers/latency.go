package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/murmura-ai/murmura/pkg/metrics"
)

// LatencyObserver tracks per-sentence timing from emission to audible output
// and logs a latency summary when the sentence finishes playing.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	emitted     time.Time
	firstAudio  time.Time
	playStart   time.Time
	utteranceID string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	seq := ""
	if ev.Tags != nil {
		seq = ev.Tags[metrics.TagSeq]
	}
	if seq == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[seq]
	if t == nil {
		t = &trace{}
		o.traces[seq] = t
	}
	if t.utteranceID == "" && ev.Tags != nil {
		t.utteranceID = ev.Tags[metrics.TagUtteranceID]
	}
	switch ev.Name {
	case metrics.EventSentenceEmitted:
		if t.emitted.IsZero() {
			t.emitted = ev.Time
		}
	case metrics.EventFirstAudio:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
		}
	case metrics.EventPlaybackStart:
		if t.playStart.IsZero() {
			t.playStart = ev.Time
		}
	case metrics.EventPlaybackDone, metrics.EventPlaybackError:
		o.logLatencyLocked(seq, t)
		delete(o.traces, seq)
	case metrics.EventInterrupt:
		// Abandoned sentence, nothing worth summarizing.
		delete(o.traces, seq)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logLatencyLocked(seq string, t *trace) {
	synthMs := durationMs(t.emitted, t.firstAudio)
	audibleMs := durationMs(t.emitted, t.playStart)
	o.log.Info("latency",
		"seq", seq,
		"utterance_id", t.utteranceID,
		"synth_first_byte_ms", synthMs,
		"time_to_audible_ms", audibleMs,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
