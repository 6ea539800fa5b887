package playback

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/murmura-ai/murmura/pkg/logging"
	"github.com/murmura-ai/murmura/pkg/metrics"
)

// Queue plays AudioItems strictly in enqueue order, one at a time,
// through a single Output. A dedicated worker goroutine pulls items
// off the head so playback never recurses; Clear is a synchronous
// teardown that leaves the queue as if freshly constructed.
type Queue struct {
	output Output
	obs    metrics.Observer
	logger *slog.Logger

	mu      sync.Mutex
	items   []Item
	session *Session
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewQueue starts the queue's worker. The caller owns output and must
// close the queue before closing the output.
func NewQueue(output Output, obs metrics.Observer, logger *slog.Logger) *Queue {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	q := &Queue{
		output: output,
		obs:    obs,
		logger: logging.NewComponentLogger(logger, "playback"),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.worker()
	return q
}

// Enqueue appends an item to the tail. If nothing is playing, the
// worker picks it up immediately.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		_ = item.Body.Close()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear stops any active playback synchronously, releases its
// resources, and discards every unplayed item. Len reports zero the
// moment Clear returns.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.items
	q.items = nil
	sess := q.session
	q.session = nil
	q.mu.Unlock()

	for _, it := range dropped {
		_ = it.Body.Close()
	}
	if sess != nil {
		sess.Stop()
	}
	if len(dropped) > 0 || sess != nil {
		q.logger.Debug("queue cleared", "dropped", len(dropped), "stopped_active", sess != nil)
	}
}

// Len reports the number of items not yet finished playing, including
// the one currently audible.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.session != nil {
		n++
	}
	return n
}

// Playing reports whether an item is currently being played.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.session != nil
}

// Close clears the queue and stops the worker. The queue accepts no
// items afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	close(q.quit)
	<-q.done
}

func (q *Queue) worker() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
		q.drainItems()
	}
}

// drainItems plays queued items until the queue is empty, one session
// at a time.
func (q *Queue) drainItems() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		sess := newSession(item, q.output, q.obs, q.logger)
		q.session = sess
		q.mu.Unlock()

		q.record(metrics.EventPlaybackStart, item, "")
		start := time.Now()
		if err := sess.Run(); err != nil {
			// Treated as completion so the queue keeps advancing.
			q.logger.Error("playback failed", "seq", item.Seq, "content_type", item.ContentType, "error", err)
			q.record(metrics.EventPlaybackError, item, err.Error())
		} else {
			q.record(metrics.EventPlaybackDone, item, "")
			q.logger.Debug("item played", "seq", item.Seq, "elapsed_ms", time.Since(start).Milliseconds())
		}

		q.mu.Lock()
		if q.session == sess {
			q.session = nil
		}
		q.mu.Unlock()
	}
}

func (q *Queue) record(name string, item Item, reason string) {
	tags := map[string]string{
		metrics.TagComponent:   "playback",
		metrics.TagSeq:         strconv.FormatUint(item.Seq, 10),
		metrics.TagContentType: item.ContentType,
	}
	if reason != "" {
		tags[metrics.TagReason] = reason
	}
	q.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}
