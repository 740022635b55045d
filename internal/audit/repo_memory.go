package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Snapshot lets a utils.MemoryTxRunner roll back appends made inside a failed unit of work.
func (r *MemoryRepo) Snapshot() func() {
	r.mu.Lock()
	n := len(r.events)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.events = r.events[:n]
		r.mu.Unlock()
	}
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
