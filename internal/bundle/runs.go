package bundle

import (
	"context"
	"sync"
)

// Runs tracks cancellable ad-hoc executions, at most one per bundle id.
type Runs struct {
	mu      sync.Mutex
	pending map[string]*runHandle
}

type runHandle struct {
	cancel context.CancelFunc
}

// NewRuns creates an empty run table.
func NewRuns() *Runs {
	return &Runs{pending: make(map[string]*runHandle)}
}

// Begin registers a run for id, cancelling any run already pending under the
// same id. The returned done func deregisters the run and releases its
// context; it is a no-op for the table if a newer run has taken the slot.
func (r *Runs) Begin(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	h := &runHandle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.pending[id]; ok {
		prev.cancel()
	}
	r.pending[id] = h
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.pending[id] == h {
			delete(r.pending, id)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel cancels the pending run for id and reports whether one existed.
func (r *Runs) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		h.cancel()
	}
	return ok
}
