package synth

import (
	"context"
	"sync"
)

// CancelRegistry tracks cancellation for every in-flight synthesis call.
// It is instance-scoped: each pipeline owns its own registry and injects it
// into its dispatchers, so concurrent pipelines never cancel each other.
type CancelRegistry struct {
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{inflight: make(map[string]context.CancelFunc)}
}

// Register stores the cancel func for an in-flight call.
func (r *CancelRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.inflight[id] = cancel
	r.mu.Unlock()
}

// Deregister drops an entry once the call has settled. The context is
// cancelled on the way out to release its resources.
func (r *CancelRegistry) Deregister(id string) {
	r.mu.Lock()
	cancel := r.inflight[id]
	delete(r.inflight, id)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelAll cancels every currently registered call. Calls registered after
// CancelAll returns are unaffected.
func (r *CancelRegistry) CancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.inflight))
	for id, cancel := range r.inflight {
		cancels = append(cancels, cancel)
		delete(r.inflight, id)
	}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Len reports the number of in-flight calls.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
