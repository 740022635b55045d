package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"
)

// MemoryRepo is a fixed-data repository for tests. It enforces user isolation
// on reads the same way the store-backed repository does.
type MemoryRepo struct {
	mu sync.Mutex

	Calls   []calls.CallRecord
	Entries []wallet.LedgerEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRecord, 0)
	for _, c := range r.Calls {
		if c.UserID == userID && inRange(c.StartedAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.LedgerEntry, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.LedgerEntry, 0)
	for _, e := range r.Entries {
		if e.UserID == userID && inRange(e.CreatedAt, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}
