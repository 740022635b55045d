package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs.
// LockAccount does not lock; serialize through utils.MemoryTxRunner instead.
type MemoryRepo struct {
	mu       sync.Mutex
	accounts map[string]Account
	entries  []LedgerEntry
	payments []Payment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: map[string]Account{}}
}

// PutAccount creates or replaces an account.
func (r *MemoryRepo) PutAccount(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.UserID] = a
}

func (r *MemoryRepo) Snapshot() func() {
	r.mu.Lock()
	accounts := make(map[string]Account, len(r.accounts))
	for k, v := range r.accounts {
		accounts[k] = v
	}
	entries := append([]LedgerEntry(nil), r.entries...)
	payments := append([]Payment(nil), r.payments...)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.accounts, r.entries, r.payments = accounts, entries, payments
		r.mu.Unlock()
	}
}

func (r *MemoryRepo) GetAccount(ctx context.Context, userID string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) LockAccount(ctx context.Context, userID string) (Account, error) {
	return r.GetAccount(ctx, userID)
}

func (r *MemoryRepo) SetCredits(ctx context.Context, userID string, credits decimal.Decimal, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	a.Credits = credits
	a.UpdatedAt = at
	r.accounts[userID] = a
	return nil
}

func (r *MemoryRepo) FindEntryByIdempotency(ctx context.Context, userID, key string) (LedgerEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == userID && e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return LedgerEntry{}, false, nil
}

func (r *MemoryRepo) InsertEntry(ctx context.Context, e LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.entries {
		if x.UserID == e.UserID && x.IdempotencyKey == e.IdempotencyKey {
			return ErrDuplicateEntry
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepo) InsertPayment(ctx context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.payments {
		if x.ProviderRef == p.ProviderRef {
			return nil
		}
	}
	r.payments = append(r.payments, p)
	return nil
}

func (r *MemoryRepo) ListEntries(ctx context.Context, userID string, from, to time.Time, limit int) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []LedgerEntry
	for _, e := range r.entries {
		if e.UserID != userID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Payments returns a copy of all recorded payments.
func (r *MemoryRepo) Payments() []Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payment, len(r.payments))
	copy(out, r.payments)
	return out
}
