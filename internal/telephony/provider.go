package telephony

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider is the carrier boundary used by billing.
//
// Rules:
// - No carrier SDK calls outside telephony adapters.
// - Prices are returned as the carrier reports them (Twilio reports negative amounts).
type Provider interface {
	Name() string

	// CallPrice returns the carrier's price for a finished call. ok is false
	// while the carrier has not priced the call yet.
	CallPrice(ctx context.Context, carrierCallID string) (price decimal.Decimal, ok bool, err error)
}
