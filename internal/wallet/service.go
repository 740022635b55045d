package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callbilling/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the Credit Ledger.
//
// Money invariants:
// - No balance update without a ledger entry in the same transaction
// - Ledger is append-only
// - Debits clamp at zero instead of failing; a call already made is never refused
// - An idempotency key is applied at most once per user
//
// Every operation runs through tx, so a caller that already opened a unit of
// work (the reconciliation settle) commits the debit together with its own writes.
type Service struct {
	repo           Repository
	tx             utils.TxRunner
	audit          AuditLogger
	minCallBalance decimal.Decimal
	clock          func() time.Time
}

// AuditLogger records privileged balance changes.
type AuditLogger interface {
	LogAdminCredit(ctx context.Context, userID, actorUserID, actorRole, ledgerEntryID string, amount decimal.Decimal, reason string) error
}

func NewService(repo Repository, tx utils.TxRunner, minCallBalance decimal.Decimal) *Service {
	return &Service{repo: repo, tx: tx, minCallBalance: minCallBalance, clock: time.Now}
}

// WithAudit attaches the audit trail used by AdminCredit.
func (s *Service) WithAudit(a AuditLogger) *Service {
	s.audit = a
	return s
}

var (
	ErrNotFound          = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDuplicateEntry    = errors.New("duplicate ledger entry")
)

type DebitRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type CreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type AdminCreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Result describes the state after a money operation.
type Result struct {
	Success    bool            `json:"success"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Entry      LedgerEntry     `json:"entry"`

	// Replayed is true when the idempotency key had already been applied.
	Replayed bool `json:"replayed"`
}

func (s *Service) Account(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.repo.GetAccount(ctx, userID)
}

func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, err := s.Account(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Credits, nil
}

// CheckMinimum is the pre-flight check before placing a call.
func (s *Service) CheckMinimum(ctx context.Context, userID string) error {
	bal, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if bal.LessThan(s.minCallBalance) {
		return ErrInsufficientFunds
	}
	return nil
}

func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListEntries(ctx, userID, time.Time{}, time.Time{}, limit)
}

// Debit subtracts amount from the user's balance, clamping at zero.
// It never fails for insufficient funds.
func (s *Service) Debit(ctx context.Context, userID string, req DebitRequest) (Result, error) {
	if err := validateMoneyReq(userID, req.Amount, req.IdempotencyKey); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, userID, EntryTypeDebit, req.Amount, req.ExternalRef, req.IdempotencyKey, nil)
}

// Credit adds amount to the user's balance unconditionally.
func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (Result, error) {
	if err := validateMoneyReq(userID, req.Amount, req.IdempotencyKey); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, userID, EntryTypeCredit, req.Amount, req.ExternalRef, req.IdempotencyKey, nil)
}

// RecordPayment credits a settled payment and stores it in one transaction.
// Replays of the same provider reference credit nothing.
func (s *Service) RecordPayment(ctx context.Context, p Payment) (Result, error) {
	if p.ProviderRef == "" {
		return Result{}, ErrInvalidArgument
	}
	prefix := RefPrefixTopup
	if p.IsAutoTopup {
		prefix = RefPrefixAutoTopup
	}
	ref := prefix + p.ProviderRef
	if err := validateMoneyReq(p.UserID, p.Credits, ref); err != nil {
		return Result{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	switch p.Status {
	case "":
		p.Status = PaymentStatusSucceeded
	case PaymentStatusSucceeded:
	case PaymentStatusFailed:
		// A failed charge is never credited.
		return Result{}, fmt.Errorf("%w: payment %s failed", ErrInvalidArgument, p.ProviderRef)
	default:
		return Result{}, fmt.Errorf("%w: payment status %q", ErrInvalidArgument, p.Status)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock().UTC()
	}

	return s.apply(ctx, p.UserID, EntryTypeCredit, p.Credits, ref, ref, func(ctx context.Context, _ LedgerEntry) error {
		return s.repo.InsertPayment(ctx, p)
	})
}

// AdminCredit is a manual credit by an operator. It is audited in the same transaction.
func (s *Service) AdminCredit(ctx context.Context, userID, adminUserID, adminRole string, req AdminCreditRequest) (Result, error) {
	if adminUserID == "" || adminRole == "" {
		return Result{}, ErrInvalidArgument
	}
	if strings.TrimSpace(req.Reason) == "" {
		return Result{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(userID, req.Amount, req.IdempotencyKey); err != nil {
		return Result{}, err
	}

	return s.apply(ctx, userID, EntryTypeCredit, req.Amount, RefPrefixAdmin+adminUserID, req.IdempotencyKey, func(ctx context.Context, e LedgerEntry) error {
		if s.audit == nil {
			return nil
		}
		return s.audit.LogAdminCredit(ctx, userID, adminUserID, adminRole, e.ID, req.Amount, req.Reason)
	})
}

func (s *Service) apply(ctx context.Context, userID string, typ EntryType, amount decimal.Decimal, ref, key string, after func(context.Context, LedgerEntry) error) (Result, error) {
	var out Result
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		acct, err := s.repo.LockAccount(ctx, userID)
		if err != nil {
			return err
		}

		// Idempotency: a key already applied returns the current balance and the original entry.
		if existing, ok, err := s.repo.FindEntryByIdempotency(ctx, userID, key); err != nil {
			return err
		} else if ok {
			out = Result{Success: true, NewBalance: acct.Credits, Entry: existing, Replayed: true}
			return nil
		}

		newBal := acct.Credits.Add(amount)
		if typ == EntryTypeDebit {
			newBal = decimal.Max(decimal.Zero, acct.Credits.Sub(amount))
		}

		now := s.clock().UTC()
		entry := LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           typ,
			Amount:         newBal.Sub(acct.Credits),
			BalanceAfter:   newBal,
			ExternalRef:    ref,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := s.repo.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.repo.SetCredits(ctx, userID, newBal, now); err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, entry); err != nil {
				return err
			}
		}

		out = Result{Success: true, NewBalance: newBal, Entry: entry}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("wallet %s: %w", typ, err)
	}
	return out, nil
}

func validateMoneyReq(userID string, amount decimal.Decimal, idempotencyKey string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if !amount.IsPositive() {
		return ErrInvalidArgument
	}
	return nil
}
