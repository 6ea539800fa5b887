package metrics

import (
	"testing"
	"time"
)

func TestMemoryObserverRecords(t *testing.T) {
	m := NewMemoryObserver()
	m.RecordEvent(MetricsEvent{Name: EventSentenceEmitted, Time: time.Now()})
	m.RecordEvent(MetricsEvent{Name: EventPlaybackStart, Time: time.Now()})
	if len(m.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(m.Events))
	}
	if m.Events[0].Name != EventSentenceEmitted {
		t.Fatalf("unexpected first event %q", m.Events[0].Name)
	}
	if got := m.Named(EventPlaybackStart); len(got) != 1 {
		t.Fatalf("expected 1 playback_start event, got %d", len(got))
	}
}

func TestSamplingObserverRate(t *testing.T) {
	inner := NewMemoryObserver()
	s := NewSamplingObserver(inner, 0.5)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: EventPlaybackAppend})
	}
	if len(inner.Events) != 5 {
		t.Fatalf("expected 5 sampled events, got %d", len(inner.Events))
	}
}

func TestSamplingObserverZeroRateDropsAll(t *testing.T) {
	inner := NewMemoryObserver()
	s := NewSamplingObserver(inner, 0)
	s.RecordEvent(MetricsEvent{Name: EventPlaybackAppend})
	if len(inner.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(inner.Events))
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	inner := NewMemoryObserver()
	a := NewAsyncObserver(inner, 16)
	a.RecordEvent(MetricsEvent{Name: EventInterrupt})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		inner.mu.Lock()
		n := len(inner.Events)
		inner.mu.Unlock()
		if n == 1 {
			a.Close()
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("async event never delivered")
}
