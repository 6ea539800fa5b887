package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/murmura-ai/murmura/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	ev := metrics.MetricsEvent{
		Name: metrics.EventPlaybackStart,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagUtteranceID: "utt-1",
			metrics.TagSeq:         "3",
		},
	}
	obs.RecordEvent(ev)
	_ = obs.Close()

	path := filepath.Join(dir, "utt-1.jsonl")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), metrics.EventPlaybackStart) {
		t.Fatalf("expected playback_start event in file")
	}
	if !strings.Contains(string(b), `"seq":"3"`) {
		t.Fatalf("expected seq in entry, got %s", b)
	}
}

func TestLatencyObserverLogsOnDone(t *testing.T) {
	obs := NewLatencyObserver(nil)
	base := time.Now()
	tags := map[string]string{metrics.TagSeq: "1", metrics.TagUtteranceID: "utt-1"}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSentenceEmitted, Time: base, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFirstAudio, Time: base.Add(40 * time.Millisecond), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPlaybackStart, Time: base.Add(55 * time.Millisecond), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPlaybackDone, Time: base.Add(time.Second), Tags: tags})

	obs.mu.Lock()
	remaining := len(obs.traces)
	obs.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected trace cleared after done, %d left", remaining)
	}
}
