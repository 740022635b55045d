package topup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callbilling/internal/wallet"
	"callbilling/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeCharger struct {
	mu    sync.Mutex
	reqs  []ChargeRequest
	err   error
	delay time.Duration
}

func (f *fakeCharger) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ChargeResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return ChargeResult{}, f.err
	}
	return ChargeResult{ProviderRef: "pi_" + req.IdempotencyKey, Status: "succeeded"}, nil
}

func (f *fakeCharger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeAuditor struct {
	mu   sync.Mutex
	refs []string
}

func (f *fakeAuditor) LogAutoTopup(ctx context.Context, userID, paymentRef, packageID string, credits decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, paymentRef)
	return nil
}

func fundedAccount() wallet.Account {
	return wallet.Account{
		UserID:             "42",
		Credits:            d("0.50"),
		AutoTopupEnabled:   true,
		AutoTopupThreshold: d("1"),
		AutoTopupPackageID: "starter",
		StripeCustomerID:   "cus_1",
		PaymentMethodRef:   "pm_1",
	}
}

func newTrigger(t *testing.T, acct wallet.Account, charger Charger) (*Trigger, *wallet.Service, *wallet.MemoryRepo) {
	t.Helper()
	catalog, err := ParseCatalog(DefaultCatalog)
	require.NoError(t, err)

	repo := wallet.NewMemoryRepo()
	repo.PutAccount(acct)
	svc := wallet.NewService(repo, utils.NewMemoryTxRunner(repo), decimal.Zero)
	return NewTrigger(Config{Catalog: catalog, ChargeTimeout: 200 * time.Millisecond}, svc, charger, NewMemoryLocker()), svc, repo
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog(" starter:10:1000 , pro:50:4400 ")
	require.NoError(t, err)
	require.Len(t, c, 2)
	assert.True(t, c["starter"].Credits.Equal(d("10")))
	assert.Equal(t, int64(4400), c["pro"].PriceCents)

	for _, bad := range []string{"", "starter:10", "starter:x:1000", "starter:10:-1", "a:1:1,a:2:2", ":1:1"} {
		_, err := ParseCatalog(bad)
		assert.Error(t, err, bad)
	}
}

func TestRun_ChargesAndCredits(t *testing.T) {
	charger := &fakeCharger{}
	audit := &fakeAuditor{}
	trig, svc, repo := newTrigger(t, fundedAccount(), charger)
	trig.WithAudit(audit)

	out, err := trig.Run(context.Background(), "42", d("0.50"), "call:c1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCharged, out)

	require.Equal(t, 1, charger.count())
	req := charger.reqs[0]
	assert.Equal(t, "autotopup:call:c1", req.IdempotencyKey)
	assert.Equal(t, int64(1000), req.AmountCents)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "cus_1", req.CustomerID)
	assert.Equal(t, "pm_1", req.PaymentMethodRef)

	bal, err := svc.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("10.50")), bal.String())

	payments := repo.Payments()
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsAutoTopup)
	assert.Equal(t, []string{"pi_autotopup:call:c1"}, audit.refs)
}

func TestRun_Skips(t *testing.T) {
	cases := map[Outcome]func(*wallet.Account){
		OutcomeDisabled:       func(a *wallet.Account) { a.AutoTopupEnabled = false },
		OutcomeAboveThreshold: func(a *wallet.Account) { a.Credits = d("1") },
		OutcomeNoMethod:       func(a *wallet.Account) { a.PaymentMethodRef = "" },
	}
	for want, mutate := range cases {
		t.Run(string(want), func(t *testing.T) {
			acct := fundedAccount()
			mutate(&acct)
			charger := &fakeCharger{}
			trig, _, _ := newTrigger(t, acct, charger)

			out, err := trig.Run(context.Background(), "42", acct.Credits, "call:c1")
			require.NoError(t, err)
			assert.Equal(t, want, out)
			assert.Zero(t, charger.count())
		})
	}
}

func TestRun_UnknownPackage(t *testing.T) {
	acct := fundedAccount()
	acct.AutoTopupPackageID = "platinum"
	trig, _, _ := newTrigger(t, acct, &fakeCharger{})

	out, err := trig.Run(context.Background(), "42", acct.Credits, "call:c1")
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestRun_ChargeFailureLeavesBalance(t *testing.T) {
	charger := &fakeCharger{err: errors.New("card_declined")}
	trig, svc, repo := newTrigger(t, fundedAccount(), charger)

	out, err := trig.Run(context.Background(), "42", d("0.50"), "call:c1")
	assert.Equal(t, OutcomeFailed, out)
	assert.Error(t, err)

	bal, err := svc.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("0.50")))
	assert.Empty(t, repo.Payments())
}

func TestRun_ChargeTimeout(t *testing.T) {
	charger := &fakeCharger{delay: time.Second}
	trig, _, _ := newTrigger(t, fundedAccount(), charger)

	out, err := trig.Run(context.Background(), "42", d("0.50"), "call:c1")
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_ConcurrentDebitsChargeOnce(t *testing.T) {
	charger := &fakeCharger{delay: 50 * time.Millisecond}
	trig, svc, _ := newTrigger(t, fundedAccount(), charger)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = trig.Run(context.Background(), "42", d("0.50"), "call:c1")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, charger.count())
	charged := 0
	for _, o := range outcomes {
		if o == OutcomeCharged {
			charged++
		}
	}
	assert.Equal(t, 1, charged)

	bal, err := svc.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("10.50")), bal.String())
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	release, ok, err := l.TryLock(context.Background(), "u")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(context.Background(), "u")
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryLock(context.Background(), "u")
	assert.True(t, ok)
}
