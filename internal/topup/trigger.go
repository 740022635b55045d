package topup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callbilling/internal/wallet"
	"callbilling/pkg/logger"

	"github.com/shopspring/decimal"
)

// Wallet is the slice of the credit ledger the trigger needs.
type Wallet interface {
	Account(ctx context.Context, userID string) (wallet.Account, error)
	RecordPayment(ctx context.Context, p wallet.Payment) (wallet.Result, error)
}

// Auditor records completed top-ups.
type Auditor interface {
	LogAutoTopup(ctx context.Context, userID, paymentRef, packageID string, credits decimal.Decimal) error
}

type Config struct {
	Catalog       Catalog
	Currency      string
	ChargeTimeout time.Duration
}

// Trigger is the auto top-up.
//
// Rules:
// - Runs only after a committed debit, never inside the debit's transaction
// - At most one charge per user at a time; a second debit sees in_flight
// - The provider idempotency key is derived from the debit, so a retried
//   debit never charges twice
// - Failures are logged and never surface to the caller of AfterDebit
type Trigger struct {
	cfg     Config
	wallet  Wallet
	charger Charger
	locker  Locker
	audit   Auditor
}

func NewTrigger(cfg Config, w Wallet, charger Charger, locker Locker) *Trigger {
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 5 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Trigger{cfg: cfg, wallet: w, charger: charger, locker: locker}
}

func (t *Trigger) WithAudit(a Auditor) *Trigger {
	t.audit = a
	return t
}

// AfterDebit runs the top-up check and only logs the outcome.
func (t *Trigger) AfterDebit(ctx context.Context, userID string, newBalance decimal.Decimal, debitRef string) {
	out, err := t.Run(ctx, userID, newBalance, debitRef)
	log := logger.From(ctx).With(slog.String("user_id", userID), slog.String("outcome", string(out)))
	switch {
	case err != nil:
		log.Error("auto top-up failed", slog.String("debit_ref", debitRef), slog.Any("err", err))
	case out == OutcomeCharged:
		log.Info("auto top-up charged", slog.String("debit_ref", debitRef))
	default:
		log.Debug("auto top-up skipped")
	}
}

// Run performs the top-up check for one debit and reports what it did.
func (t *Trigger) Run(ctx context.Context, userID string, newBalance decimal.Decimal, debitRef string) (Outcome, error) {
	acct, err := t.wallet.Account(ctx, userID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load account: %w", err)
	}
	if !acct.AutoTopupEnabled {
		return OutcomeDisabled, nil
	}

	// The account read is newer than newBalance when debits race.
	bal := acct.Credits
	if newBalance.LessThan(bal) {
		bal = newBalance
	}
	if !bal.LessThan(acct.AutoTopupThreshold) {
		return OutcomeAboveThreshold, nil
	}
	if !acct.HasStoredPaymentMethod() {
		return OutcomeNoMethod, nil
	}
	pkg, ok := t.cfg.Catalog[acct.AutoTopupPackageID]
	if !ok {
		return OutcomeFailed, fmt.Errorf("%w: %q", ErrUnknownPackage, acct.AutoTopupPackageID)
	}

	release, ok, err := t.locker.TryLock(ctx, userID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("acquire top-up lock: %w", err)
	}
	if !ok {
		return OutcomeInFlight, nil
	}
	defer release()

	// A top-up that finished just before we got the lock has already refilled the balance.
	if fresh, err := t.wallet.Account(ctx, userID); err != nil {
		return OutcomeFailed, fmt.Errorf("reload account: %w", err)
	} else if !fresh.Credits.LessThan(acct.AutoTopupThreshold) {
		return OutcomeAboveThreshold, nil
	}

	chargeCtx, cancel := context.WithTimeout(ctx, t.cfg.ChargeTimeout)
	defer cancel()

	charge, err := t.charger.Charge(chargeCtx, ChargeRequest{
		UserID:           userID,
		CustomerID:       acct.StripeCustomerID,
		PaymentMethodRef: acct.PaymentMethodRef,
		AmountCents:      pkg.PriceCents,
		Currency:         t.cfg.Currency,
		PackageID:        pkg.ID,
		IdempotencyKey:   wallet.RefPrefixAutoTopup + debitRef,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("charge timed out after %s: %w", t.cfg.ChargeTimeout, err)
		}
		return OutcomeFailed, err
	}

	res, err := t.wallet.RecordPayment(ctx, wallet.Payment{
		UserID:      userID,
		PackageID:   pkg.ID,
		AmountCents: pkg.PriceCents,
		Currency:    t.cfg.Currency,
		Credits:     pkg.Credits,
		ProviderRef: charge.ProviderRef,
		Status:      wallet.PaymentStatusSucceeded,
		IsAutoTopup: true,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("record payment %s: %w", charge.ProviderRef, err)
	}

	if t.audit != nil && !res.Replayed {
		if err := t.audit.LogAutoTopup(ctx, userID, charge.ProviderRef, pkg.ID, pkg.Credits); err != nil {
			logger.From(ctx).Warn("auto top-up audit failed", slog.String("payment_ref", charge.ProviderRef), slog.Any("err", err))
		}
	}
	return OutcomeCharged, nil
}
