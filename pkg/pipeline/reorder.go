package pipeline

import (
	"sync"

	"github.com/murmura-ai/murmura/pkg/playback"
)

// reorderBuffer releases audio items to the playback queue in dispatch
// order even when synthesis completes out of order. Sequence numbers
// are registered at dispatch time; a completion for an unregistered
// sequence (settled after an interrupt reset) is discarded.
type reorderBuffer struct {
	mu       sync.Mutex
	expected []uint64
	results  map[uint64]*playback.Item
	deliver  func(playback.Item)
}

func newReorderBuffer(deliver func(playback.Item)) *reorderBuffer {
	return &reorderBuffer{
		results: make(map[uint64]*playback.Item),
		deliver: deliver,
	}
}

// Expect registers seq as the next emitted sentence. Calls must come
// in emission order.
func (r *reorderBuffer) Expect(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected = append(r.expected, seq)
}

// Complete records the outcome for seq. A nil item marks a gap, a
// sentence that produced no audio, so later items are not held back
// by it. Ready items at the head are delivered before Complete
// returns.
func (r *reorderBuffer) Complete(seq uint64, item *playback.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isExpected(seq) {
		if item != nil {
			_ = item.Body.Close()
		}
		return
	}
	r.results[seq] = item

	// Delivery happens under the lock so two completions settling
	// together cannot interleave their released runs.
	for len(r.expected) > 0 {
		head := r.expected[0]
		res, ok := r.results[head]
		if !ok {
			return
		}
		delete(r.results, head)
		r.expected = r.expected[1:]
		if res != nil {
			r.deliver(*res)
		}
	}
}

// Reset discards every pending slot and buffered completion. Bodies
// of buffered items are closed.
func (r *reorderBuffer) Reset() {
	r.mu.Lock()
	buffered := r.results
	r.expected = nil
	r.results = make(map[uint64]*playback.Item)
	r.mu.Unlock()

	for _, it := range buffered {
		if it != nil {
			_ = it.Body.Close()
		}
	}
}

// Pending reports how many emitted sentences have not been released
// yet.
func (r *reorderBuffer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expected)
}

func (r *reorderBuffer) isExpected(seq uint64) bool {
	for _, s := range r.expected {
		if s == seq {
			return true
		}
	}
	return false
}
