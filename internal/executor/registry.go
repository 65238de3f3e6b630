// Package executor dispatches recorded decisions to their execution paths
// and tracks pending vs completed decisions.
package executor

import (
	"sync"

	"tiller/internal/decision"
)

// Registry holds active decisions keyed by id. A decision is registered
// before any execution attempt and removed only on success; failures keep it
// resolvable for inspection and retry.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*decision.Decision
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*decision.Decision)}
}

func (r *Registry) Put(d *decision.Decision) {
	r.mu.Lock()
	r.active[d.ID] = d
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*decision.Decision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.active[id]
	return d, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Pending lists a user's active decisions that still need approval.
func (r *Registry) Pending(userID string) []*decision.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*decision.Decision
	for _, d := range r.active {
		if d.UserID == userID && d.RequiresApproval {
			out = append(out, d)
		}
	}
	return out
}
