// Package ident assigns client-local temporary identifiers to outbound
// messages and tracks which of them are still awaiting the server ack.
package ident

import (
	"sync"

	"github.com/google/uuid"
)

// Registry generates temp ids and owns the pending-send set. Acking a temp
// id only removes it from the pending set; the store record itself is
// updated in place by the reconcile path.
type Registry struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]struct{})}
}

// NewTempID returns a fresh collision-resistant temp id and tracks it as
// pending.
func (r *Registry) NewTempID() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = struct{}{}
	r.mu.Unlock()
	return id
}

// Ack removes a temp id from the pending set. Safe to call twice.
func (r *Registry) Ack(tempID string) {
	r.mu.Lock()
	delete(r.pending, tempID)
	r.mu.Unlock()
}

// IsPending reports whether the temp id is still awaiting its ack.
func (r *Registry) IsPending(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[tempID]
	return ok
}

// PendingCount returns the number of unacknowledged sends.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset drops all pending bookkeeping; used on conversation switch.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.pending = make(map[string]struct{})
	r.mu.Unlock()
}
