package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's prepaid credit balance plus auto-topup settings.
// Invariant: Credits never goes below zero, and every change to it is paired
// with a LedgerEntry written in the same transaction.
type Account struct {
	UserID  string          `json:"user_id" db:"id"`
	Credits decimal.Decimal `json:"credits" db:"credits"`

	AutoTopupEnabled   bool            `json:"auto_topup_enabled" db:"auto_topup_enabled"`
	AutoTopupThreshold decimal.Decimal `json:"auto_topup_threshold" db:"auto_topup_threshold"`
	AutoTopupPackageID string          `json:"auto_topup_package_id,omitempty" db:"auto_topup_package_id"`

	// Payment provider references. Never exposed in API responses.
	StripeCustomerID string `json:"-" db:"stripe_customer_id"`
	PaymentMethodRef string `json:"-" db:"payment_method_ref"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasStoredPaymentMethod reports whether the account can be charged off-session.
func (a Account) HasStoredPaymentMethod() bool {
	return a.StripeCustomerID != "" && a.PaymentMethodRef != ""
}

// LedgerEntry is an immutable append-only record of one balance change.
type LedgerEntry struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	Type   EntryType `json:"type" db:"type"`

	// Amount is signed: credits are positive, debits negative. It is the delta
	// actually applied, so a debit clamped at zero records less than requested.
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`

	// ExternalRef names what caused the entry: call:<id>, autotopup:<pi>, admin:<id>.
	ExternalRef    string `json:"external_ref,omitempty" db:"external_ref"`
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// Payment is a settled purchase of credits.
type Payment struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	PackageID   string          `json:"package_id" db:"package_id"`
	AmountCents int64           `json:"amount_cents" db:"amount_cents"`
	Currency    string          `json:"currency" db:"currency"`
	Credits     decimal.Decimal `json:"credits" db:"credits"`
	ProviderRef string          `json:"provider_ref" db:"provider_ref"`
	Status      PaymentStatus   `json:"status" db:"status"`
	IsAutoTopup bool            `json:"is_auto_topup" db:"is_auto_topup"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Ref prefixes used in LedgerEntry.ExternalRef.
const (
	RefPrefixCall      = "call:"
	RefPrefixAutoTopup = "autotopup:"
	RefPrefixTopup     = "topup:"
	RefPrefixAdmin     = "admin:"
)
