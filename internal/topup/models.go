// Package topup recharges a prepaid balance from a stored payment method when
// a debit leaves it under the user's threshold.
package topup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Package is a purchasable bundle of credits.
type Package struct {
	ID         string          `json:"id"`
	Credits    decimal.Decimal `json:"credits"`
	PriceCents int64           `json:"price_cents"`
}

// DefaultCatalog is used when no catalog is configured.
const DefaultCatalog = "starter:10:1000,standard:25:2300,pro:50:4400"

type Catalog map[string]Package

// ParseCatalog parses "id:credits:priceCents" entries separated by commas.
func ParseCatalog(raw string) (Catalog, error) {
	out := Catalog{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("package %q: expected id:credits:priceCents", part)
		}
		id := strings.TrimSpace(fields[0])
		credits, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
		if err != nil || !credits.IsPositive() {
			return nil, fmt.Errorf("package %q: credits must be a positive number", part)
		}
		cents, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil || cents <= 0 {
			return nil, fmt.Errorf("package %q: price must be positive cents", part)
		}
		if id == "" {
			return nil, fmt.Errorf("package %q: id required", part)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("package %q: duplicate id", id)
		}
		out[id] = Package{ID: id, Credits: credits, PriceCents: cents}
	}
	if len(out) == 0 {
		return nil, errors.New("package catalog is empty")
	}
	return out, nil
}

type Outcome string

const (
	OutcomeDisabled       Outcome = "disabled"
	OutcomeAboveThreshold Outcome = "above_threshold"
	OutcomeNoMethod       Outcome = "no_method"
	OutcomeInFlight       Outcome = "in_flight"
	OutcomeCharged        Outcome = "charged"
	OutcomeFailed         Outcome = "failed"
)

var (
	ErrUnknownPackage = errors.New("unknown top-up package")
	ErrChargeDeclined = errors.New("charge not succeeded")
)
