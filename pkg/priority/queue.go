package priority

import (
	"context"
	"sync/atomic"
)

type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
}

// Queue is a two-level queue: control signals (interrupts) go high, sentence
// work goes low. High entries are always drained before low ones.
type Queue struct {
	high     chan any
	low      chan any
	highPush int64
	lowPush  int64
	highPop  int64
	lowPop   int64
}

func New(highCap, lowCap int) *Queue {
	if highCap <= 0 {
		highCap = 16
	}
	if lowCap <= 0 {
		lowCap = 64
	}
	return &Queue{
		high: make(chan any, highCap),
		low:  make(chan any, lowCap),
	}
}

func (q *Queue) TryPushHigh(v any) bool {
	select {
	case q.high <- v:
		atomic.AddInt64(&q.highPush, 1)
		return true
	default:
		return false
	}
}

func (q *Queue) TryPushLow(v any) bool {
	select {
	case q.low <- v:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		return false
	}
}

// Pop returns the next entry, preferring high. It blocks until an entry is
// available or ctx is done, in which case ok is false.
func (q *Queue) Pop(ctx context.Context) (any, bool) {
	// Drain queued control entries before blocking on both lanes; the
	// blocked select picks at random when both fire at once.
	select {
	case v := <-q.high:
		atomic.AddInt64(&q.highPop, 1)
		return v, true
	default:
	}
	select {
	case <-ctx.Done():
		return nil, false
	case v := <-q.high:
		atomic.AddInt64(&q.highPop, 1)
		return v, true
	case v := <-q.low:
		atomic.AddInt64(&q.lowPop, 1)
		return v, true
	}
}

// DrainLow discards all queued low-priority entries.
func (q *Queue) DrainLow() int {
	n := 0
	for {
		select {
		case <-q.low:
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		HighPush: atomic.LoadInt64(&q.highPush),
		LowPush:  atomic.LoadInt64(&q.lowPush),
		HighPop:  atomic.LoadInt64(&q.highPop),
		LowPop:   atomic.LoadInt64(&q.lowPop),
	}
}
