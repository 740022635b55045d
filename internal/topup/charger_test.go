package topup

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestStripeCharger_UsesOwnKeyConcurrently(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("Idempotency-Key")] = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_test","object":"payment_intent","status":"succeeded"}`)
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("sk_test_%d", i)
			res, err := newStripeCharger(key, backend).Charge(context.Background(), ChargeRequest{
				UserID:           "42",
				CustomerID:       "cus_1",
				PaymentMethodRef: "pm_1",
				AmountCents:      1000,
				Currency:         "usd",
				PackageID:        "starter",
				IdempotencyKey:   fmt.Sprintf("autotopup:call:%d", i),
			})
			assert.NoError(t, err)
			assert.Equal(t, "pi_test", res.ProviderRef)
		}(i)
	}
	wg.Wait()

	require.Len(t, seen, 8)
	for i := 0; i < 8; i++ {
		assert.Equal(t, fmt.Sprintf("Bearer sk_test_%d", i), seen[fmt.Sprintf("autotopup:call:%d", i)])
	}
}

func TestStripeCharger_RequiresKey(t *testing.T) {
	_, err := NewStripeCharger("").Charge(context.Background(), ChargeRequest{})
	assert.Error(t, err)
}
