package reporting

import (
	"context"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"
)

// maxRows bounds one summary; older rows past it are not aggregated.
const maxRows = 500

// StoreRepo reads through the call store and the ledger repository.
type StoreRepo struct {
	calls  calls.Store
	ledger wallet.Repository
}

func NewStoreRepo(c calls.Store, l wallet.Repository) *StoreRepo {
	return &StoreRepo{calls: c, ledger: l}
}

func (r *StoreRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error) {
	return r.calls.ListByUser(ctx, userID, from, to, maxRows)
}

func (r *StoreRepo) ListEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.LedgerEntry, error) {
	return r.ledger.ListEntries(ctx, userID, from, to, maxRows)
}
