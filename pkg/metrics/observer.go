package metrics

import "time"

// MetricsEvent is one record on the pipeline's event stream: a
// sentence emitted, a synthesis settled, a playback started or ended.
// Tags identify the utterance, sequence and component; Value carries a
// latency in milliseconds where the event has one.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives pipeline events. Implementations must tolerate
// concurrent RecordEvent calls; segmenter, dispatcher and playback all
// record from their own goroutines.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// Flusher is implemented by observers with buffered output, like the
// timeline artifact writer.
type Flusher interface {
	Flush() error
}

// NoopObserver discards everything. It stands in wherever no observer
// was configured.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
