package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service writes audit events.
//
// Admin credits are audited inside the credit's transaction, so a failed
// append rolls the credit back. Auto top-up events are best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIP(ctx)
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("audit append %s: %w", e.Type, err)
	}
	return nil
}

// LogAdminCredit records a manual credit by an operator.
func (s *Service) LogAdminCredit(ctx context.Context, userID, actorUserID, actorRole, ledgerEntryID string, amount decimal.Decimal, reason string) error {
	if actorUserID == "" {
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeAdminCredit,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     reason,
		Metadata: metadata(map[string]string{
			"ledger_entry_id": ledgerEntryID,
			"amount":          amount.String(),
		}),
	})
}

// LogAutoTopup records a completed automatic recharge.
func (s *Service) LogAutoTopup(ctx context.Context, userID, paymentRef, packageID string, credits decimal.Decimal) error {
	return s.Append(ctx, Event{
		UserID:     userID,
		Type:       EventTypeAutoTopup,
		PaymentRef: paymentRef,
		Message:    "auto top-up charged",
		Metadata: metadata(map[string]string{
			"package_id": packageID,
			"credits":    credits.String(),
		}),
	})
}

func metadata(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
