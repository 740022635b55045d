package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the billing constants. It is read once at startup; call sites
// never re-derive rate, surcharge or markup.
type Config struct {
	// PerMinuteRate is the fallback carrier cost per started minute.
	PerMinuteRate decimal.Decimal

	// Surcharge is added to every carrier-reported price before markup.
	Surcharge decimal.Decimal

	// Multiplier is the markup in percent; 200 bills twice the cost.
	Multiplier decimal.Decimal

	// Timeout bounds the carrier price lookup.
	Timeout time.Duration
}

// Places is the ledger precision for credits.
const Places = 4

// minFallbackMinutes is what a call with no measurable duration is billed.
var minFallbackMinutes = decimal.New(1, -1)

type Source string

const (
	SourceCarrier  Source = "carrier"
	SourceFallback Source = "fallback"
)

// Estimate is a priced call.
type Estimate struct {
	Credits decimal.Decimal `json:"credits"`
	Source  Source          `json:"source"`

	// BillableMinutes is set for fallback estimates.
	BillableMinutes decimal.Decimal `json:"billable_minutes"`

	// CarrierPrice is the raw carrier-reported price for carrier estimates.
	CarrierPrice decimal.Decimal `json:"carrier_price"`
}
