package calls

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// CallRecord is one leg of a call as seen by billing.
//
// Billing invariant: once Status is completed with CreditsUsed > 0 the record is
// terminal and must never be billed again. Linked legs (RelatedCallID set) are
// terminal too and always carry zero cost.
//
// UserID is fixed at creation and never rewritten by a settlement.
type CallRecord struct {
	ID                string          `json:"id" db:"id"`
	CarrierCallID     string          `json:"carrier_call_id" db:"carrier_call_id"`
	UserID            string          `json:"user_id" db:"user_id"`
	DestinationNumber string          `json:"destination_number" db:"destination_number"`
	Status            CallStatus      `json:"status" db:"status"`
	Direction         string          `json:"direction,omitempty" db:"direction"`
	DurationSeconds   int             `json:"duration_seconds" db:"duration_seconds"`
	CreditsUsed       decimal.Decimal `json:"credits_used" db:"credits_used"`

	// RelatedCallID points at the leg that carries this call's cost. Empty when none.
	RelatedCallID string `json:"related_call_id,omitempty" db:"related_call_id"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusBusy      CallStatus = "busy"
)

const (
	// TempIDPrefix marks a carrier call id minted locally at dial time, before
	// the carrier has assigned its own.
	TempIDPrefix = "temp_"

	// UnknownDestination is stored when the dialed number was not known at creation.
	UnknownDestination = "unknown"
)

// IsTempCallID reports whether id was minted by NewTempCallID.
func IsTempCallID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempCallID returns a placeholder carrier id of the form temp_<unix>_<rand>.
func NewTempCallID(now time.Time) string {
	return fmt.Sprintf("%s%d_%d", TempIDPrefix, now.Unix(), 1000+rand.IntN(9000))
}

// IsBilled reports whether the record already carries a charge.
func (r CallRecord) IsBilled() bool {
	return r.Status == CallStatusCompleted && r.CreditsUsed.IsPositive()
}

// IsLinked reports whether another leg carries this call's cost.
func (r CallRecord) IsLinked() bool {
	return r.RelatedCallID != ""
}

// IsTerminal reports whether no further settlement may change the record.
func (r CallRecord) IsTerminal() bool {
	if r.IsBilled() || r.IsLinked() {
		return true
	}
	return r.Status == CallStatusFailed || r.Status == CallStatusBusy
}

// IsProvisional reports whether the record still waits for the carrier's real id.
func (r CallRecord) IsProvisional() bool {
	return r.Status == CallStatusInitiated && IsTempCallID(r.CarrierCallID)
}

// NormalizeDestination converts a dialed number to E.164 where it can.
// Formatting characters are dropped, a 00 international prefix becomes +,
// and bare 10 or 11 digit NANP numbers gain +1. Empty input yields UnknownDestination.
func NormalizeDestination(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, UnknownDestination) {
		return UnknownDestination
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "+" {
		return UnknownDestination
	}

	if strings.HasPrefix(out, "+") {
		return out
	}
	if strings.HasPrefix(out, "00") && len(out) > 2 {
		return "+" + out[2:]
	}
	switch {
	case len(out) == 10:
		return "+1" + out
	case len(out) == 11 && out[0] == '1':
		return "+" + out
	}
	return "+" + out
}

// IsDialable reports whether n is an E.164 number: a plus sign and 8 to 15 digits.
func IsDialable(n string) bool {
	if !strings.HasPrefix(n, "+") {
		return false
	}
	digits := n[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
