package calls

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("call record not found")

	// ErrAlreadySettled is returned by Settle when the conditional update matched
	// no row: the record was billed, linked, failed or busy by a concurrent settlement.
	ErrAlreadySettled = errors.New("call record already settled")

	// ErrDuplicateCarrierID is returned when a carrier id is already owned by another record.
	ErrDuplicateCarrierID = errors.New("carrier call id already in use")

	ErrInvalidArgument = errors.New("invalid argument")
)

// SettleParams carries the outcome of one settlement.
type SettleParams struct {
	Status          CallStatus
	DurationSeconds int
	CreditsUsed     decimal.Decimal

	// CarrierCallID replaces the stored carrier id when set (temp id promotion).
	CarrierCallID string

	// DestinationNumber is written only when the stored destination is unknown.
	DestinationNumber string

	// RelatedCallID links this leg to the one that carries the cost.
	RelatedCallID string

	Direction string
	EndedAt   time.Time
}

// Store persists call records. It never touches balances; billing is the
// reconciliation layer's job.
//
// Settle is the only mutator after Create. It succeeds only while the record is
// initiated, or completed with zero credits, and not linked; otherwise it
// returns ErrAlreadySettled.
//
// All methods join the transaction carried by ctx, if any.
type Store interface {
	Create(ctx context.Context, rec CallRecord) (CallRecord, error)
	Get(ctx context.Context, id string) (CallRecord, error)

	// GetForUpdate reads the record and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (CallRecord, error)

	GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error)

	// FindRecentByUserAndDestination returns the user's records for destination
	// whose start lies within window of around, newest first.
	FindRecentByUserAndDestination(ctx context.Context, userID, destination string, around time.Time, window time.Duration) ([]CallRecord, error)

	// FindLatestProvisional returns the user's newest provisional record created
	// at or after notBefore. A zero notBefore means no lower bound.
	FindLatestProvisional(ctx context.Context, userID string, notBefore time.Time) (CallRecord, error)

	Settle(ctx context.Context, id string, p SettleParams) (CallRecord, error)

	// ListByUser returns records started in [from, to), newest first. Zero bounds are open.
	ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]CallRecord, error)
}

func validateSettle(id string, p SettleParams) error {
	if id == "" {
		return ErrInvalidArgument
	}
	switch p.Status {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy:
	default:
		return ErrInvalidArgument
	}
	if p.DurationSeconds < 0 || p.CreditsUsed.IsNegative() {
		return ErrInvalidArgument
	}
	if p.RelatedCallID == id {
		return ErrInvalidArgument
	}
	return nil
}

// settleable mirrors the WHERE clause of the Postgres conditional update.
func settleable(r CallRecord) bool {
	if r.IsLinked() {
		return false
	}
	if r.Status == CallStatusInitiated {
		return true
	}
	return r.Status == CallStatusCompleted && r.CreditsUsed.IsZero()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
