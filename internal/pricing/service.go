package pricing

import (
	"context"
	"log/slog"
	"time"

	"callbilling/internal/calls"
	"callbilling/pkg/logger"

	"github.com/shopspring/decimal"
)

// PriceSource returns the carrier's own price for a call. ok is false while the
// carrier has not settled the price yet.
type PriceSource interface {
	CallPrice(ctx context.Context, carrierCallID string) (price decimal.Decimal, ok bool, err error)
}

// Estimator prices a finished call.
//
// Contract:
// - Carrier price first, duration-based fallback second
// - Never returns an error; a failing price source only degrades the estimate
// - Pure calculation plus one bounded lookup
type Estimator struct {
	cfg    Config
	prices PriceSource
}

func NewEstimator(cfg Config, prices PriceSource) *Estimator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if !cfg.Multiplier.IsPositive() {
		cfg.Multiplier = decimal.NewFromInt(100)
	}
	return &Estimator{cfg: cfg, prices: prices}
}

// Estimate returns the credits to bill for a call. multiplier is the markup in
// percent; zero or negative uses the configured default. Temporary call ids are
// never sent to the carrier.
func (e *Estimator) Estimate(ctx context.Context, carrierCallID string, durationSeconds int, multiplier decimal.Decimal) Estimate {
	if !multiplier.IsPositive() {
		multiplier = e.cfg.Multiplier
	}
	markup := multiplier.Div(decimal.NewFromInt(100))

	if price, ok := e.carrierPrice(ctx, carrierCallID); ok {
		credits := price.Abs().Add(e.cfg.Surcharge).Mul(markup).Round(Places)
		return Estimate{Credits: credits, Source: SourceCarrier, CarrierPrice: price}
	}

	minutes := billableMinutes(durationSeconds)
	credits := minutes.Mul(e.cfg.PerMinuteRate).Mul(markup).Round(Places)
	return Estimate{Credits: credits, Source: SourceFallback, BillableMinutes: minutes}
}

func (e *Estimator) carrierPrice(ctx context.Context, carrierCallID string) (decimal.Decimal, bool) {
	if e.prices == nil || carrierCallID == "" || calls.IsTempCallID(carrierCallID) {
		return decimal.Zero, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	price, ok, err := e.prices.CallPrice(lookupCtx, carrierCallID)
	if err != nil {
		logger.From(ctx).Warn("carrier price lookup failed; using fallback",
			slog.String("carrier_call_id", carrierCallID),
			slog.Any("err", err),
		)
		return decimal.Zero, false
	}
	return price, ok
}

// billableMinutes rounds up to whole started minutes, with a floor of a tenth
// of a minute so any connected call is billed something.
func billableMinutes(sec int) decimal.Decimal {
	m := billableMinutesFromSeconds(sec)
	if m <= 0 {
		return minFallbackMinutes
	}
	return decimal.NewFromInt(int64(m))
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
