package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for one user's activity in [From, To).
type SummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

// CallsSummary aggregates call records. Linked legs are counted apart so a
// two-leg call counts once.
type CallsSummary struct {
	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	BilledCalls    int `json:"billed_calls"`
	FailedCalls    int `json:"failed_calls"`
	BusyCalls      int `json:"busy_calls"`
	PendingCalls   int `json:"pending_calls"`
	LinkedLegs     int `json:"linked_legs"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	CreditsUsed decimal.Decimal `json:"credits_used"`
}

// SpendSummary is derived from immutable ledger entries.
type SpendSummary struct {
	TotalDebits  decimal.Decimal `json:"total_debits"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	NetDelta     decimal.Decimal `json:"net_delta"`

	CallDebits         decimal.Decimal `json:"call_debits"`
	AutoTopupCredits   decimal.Decimal `json:"auto_topup_credits"`
	ManualTopupCredits decimal.Decimal `json:"manual_topup_credits"`
	AdminCredits       decimal.Decimal `json:"admin_credits"`
}

type Summary struct {
	UserID string       `json:"user_id"`
	Range  TimeRange    `json:"range"`
	Calls  CallsSummary `json:"calls"`
	Spend  SpendSummary `json:"spend"`
}
