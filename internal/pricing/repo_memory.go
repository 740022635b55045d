package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryPrices is a PriceSource backed by a map, useful for tests and local runs
// without carrier credentials.
type MemoryPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal

	// Err, when set, is returned by every lookup.
	Err error
}

func NewMemoryPrices() *MemoryPrices {
	return &MemoryPrices{prices: map[string]decimal.Decimal{}}
}

func (m *MemoryPrices) Set(carrierCallID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[carrierCallID] = price
}

func (m *MemoryPrices) CallPrice(ctx context.Context, carrierCallID string) (decimal.Decimal, bool, error) {
	if m.Err != nil {
		return decimal.Zero, false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[carrierCallID]
	return p, ok, nil
}
