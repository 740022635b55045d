package reconcile

import (
	"context"
	"testing"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, policy MatchPolicy) (*Resolver, *calls.MemoryStore, *session.MemoryStore, time.Time) {
	t.Helper()
	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	store := calls.NewMemoryStore().WithClock(func() time.Time { return now })
	hints := session.NewMemoryStore(time.Hour)
	r := NewResolver(store, hints, policy)
	r.clock = func() time.Time { return now }
	return r, store, hints, now
}

func create(t *testing.T, s *calls.MemoryStore, rec calls.CallRecord) calls.CallRecord {
	t.Helper()
	if rec.UserID == "" {
		rec.UserID = "42"
	}
	out, err := s.Create(context.Background(), rec)
	require.NoError(t, err)
	return out
}

func TestMatchPolicy_IsClientLeg(t *testing.T) {
	p := DefaultMatchPolicy()
	assert.True(t, p.IsClientLeg(Signal{Direction: "inbound"}))
	assert.True(t, p.IsClientLeg(Signal{Direction: "client"}))
	assert.True(t, p.IsClientLeg(Signal{Direction: "outbound-api", From: "client:42"}))
	assert.False(t, p.IsClientLeg(Signal{Direction: "outbound-dial", From: "+15550001111"}))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, statusBillable, classify(Signal{CarrierStatus: "Completed"}))
	assert.Equal(t, statusBillable, classify(Signal{CarrierStatus: "answered"}))
	assert.Equal(t, statusBillable, classify(Signal{Source: SourceClient}))
	assert.Equal(t, statusIgnore, classify(Signal{Source: SourceCarrier}))
	assert.Equal(t, statusBusy, classify(Signal{CarrierStatus: "busy"}))
	assert.Equal(t, statusFailed, classify(Signal{CarrierStatus: "cancelled"}))
	assert.Equal(t, statusIgnore, classify(Signal{CarrierStatus: "ringing"}))
}

func TestResolve_CarrierIDBeatsProvisional(t *testing.T) {
	r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
	create(t, store, calls.CallRecord{CarrierCallID: calls.NewTempCallID(now)})
	known := create(t, store, calls.CallRecord{CarrierCallID: "CA1", DestinationNumber: "+14155550100"})

	res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CA1", UserID: "42"})
	require.NoError(t, err)
	assert.Equal(t, StrategyCarrierID, res.Strategy)
	assert.Equal(t, known.ID, res.Target.ID)
	assert.Empty(t, res.TargetCarrierID)
	assert.Nil(t, res.Linked)
}

func TestResolve_HintIgnoredForOtherUser(t *testing.T) {
	r, store, hints, now := newTestResolver(t, DefaultMatchPolicy())
	theirs := create(t, store, calls.CallRecord{UserID: "7", CarrierCallID: "temp_1_1111"})
	mine := create(t, store, calls.CallRecord{CarrierCallID: calls.NewTempCallID(now)})

	ctx := session.WithID(context.Background(), "s")
	require.NoError(t, hints.Put(ctx, "s", session.Hint{CallRecordID: theirs.ID}))

	res, err := r.Resolve(ctx, Signal{CarrierCallID: "CAnew", UserID: "42"})
	require.NoError(t, err)
	assert.Equal(t, StrategyProvisional, res.Strategy)
	assert.Equal(t, mine.ID, res.Target.ID)
	assert.Equal(t, "CAnew", res.TargetCarrierID)
}

func TestResolve_ProvisionalMaxAge(t *testing.T) {
	policy := DefaultMatchPolicy()
	policy.ProvisionalMaxAge = time.Hour
	r, store, _, now := newTestResolver(t, policy)

	store.WithClock(func() time.Time { return now.Add(-2 * time.Hour) })
	create(t, store, calls.CallRecord{CarrierCallID: "temp_1_1111"})

	_, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAnew", UserID: "42"})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_NoUserNoMatch(t *testing.T) {
	r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
	create(t, store, calls.CallRecord{CarrierCallID: calls.NewTempCallID(now)})

	_, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAnew"})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_SiblingPredicate(t *testing.T) {
	dest := "+14155550100"

	t.Run("earlier finished call is not a sibling", func(t *testing.T) {
		r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
		earlier := create(t, store, calls.CallRecord{CarrierCallID: "CAold", DestinationNumber: dest, StartedAt: now.Add(-5 * time.Minute)})
		_, err := store.Settle(context.Background(), earlier.ID, calls.SettleParams{
			Status:      calls.CallStatusCompleted,
			CreditsUsed: d("0.03"),
			EndedAt:     now.Add(-4 * time.Minute),
		})
		require.NoError(t, err)
		located := create(t, store, calls.CallRecord{CarrierCallID: "CAnew", DestinationNumber: dest, StartedAt: now})

		res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAnew", Direction: "inbound", UserID: "42"})
		require.NoError(t, err)
		assert.Equal(t, located.ID, res.Target.ID)
		assert.Nil(t, res.Linked)
	})

	t.Run("outside window", func(t *testing.T) {
		r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
		create(t, store, calls.CallRecord{CarrierCallID: "CAfar", DestinationNumber: dest, StartedAt: now.Add(-11 * time.Minute)})
		located := create(t, store, calls.CallRecord{CarrierCallID: "CAnear", DestinationNumber: dest, StartedAt: now})

		res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAnear", Direction: "inbound", UserID: "42"})
		require.NoError(t, err)
		assert.Equal(t, located.ID, res.Target.ID)
		assert.False(t, res.Redirected)
	})

	t.Run("failed sibling skipped", func(t *testing.T) {
		r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
		failed := create(t, store, calls.CallRecord{CarrierCallID: "CAfailed", DestinationNumber: dest, StartedAt: now})
		_, err := store.Settle(context.Background(), failed.ID, calls.SettleParams{Status: calls.CallStatusFailed, EndedAt: now.Add(time.Minute)})
		require.NoError(t, err)
		create(t, store, calls.CallRecord{CarrierCallID: "CAleg", DestinationNumber: dest, StartedAt: now})

		res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAleg", From: "client:42", UserID: "42"})
		require.NoError(t, err)
		assert.Nil(t, res.Linked)
	})

	t.Run("billed sibling preferred", func(t *testing.T) {
		r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
		billed := create(t, store, calls.CallRecord{CarrierCallID: "CAbilled", DestinationNumber: dest, StartedAt: now.Add(time.Second)})
		_, err := store.Settle(context.Background(), billed.ID, calls.SettleParams{Status: calls.CallStatusCompleted, CreditsUsed: d("0.05"), EndedAt: now.Add(time.Minute)})
		require.NoError(t, err)
		create(t, store, calls.CallRecord{CarrierCallID: "CAopen", DestinationNumber: dest, StartedAt: now.Add(2 * time.Second)})
		leg := create(t, store, calls.CallRecord{CarrierCallID: "CAleg", DestinationNumber: dest, StartedAt: now})

		res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAleg", Direction: "inbound", UserID: "42"})
		require.NoError(t, err)
		assert.Equal(t, billed.ID, res.Target.ID)
		require.NotNil(t, res.Linked)
		assert.Equal(t, leg.ID, res.Linked.ID)
		assert.Equal(t, "CAbilled", res.PricingCallID)
		assert.True(t, res.Redirected)
	})
}

func TestResolve_BilledParentAbsorbsChild(t *testing.T) {
	r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
	parent := create(t, store, calls.CallRecord{CarrierCallID: "CAparent", StartedAt: now})
	_, err := store.Settle(context.Background(), parent.ID, calls.SettleParams{Status: calls.CallStatusCompleted, CreditsUsed: d("0.02")})
	require.NoError(t, err)
	child := create(t, store, calls.CallRecord{CarrierCallID: "CAchild", StartedAt: now})

	res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAchild", ParentCarrierCallID: "CAparent"})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, res.Target.ID)
	require.NotNil(t, res.Linked)
	assert.Equal(t, child.ID, res.Linked.ID)
	assert.True(t, res.Redirected)
}

func TestResolve_ProvisionalMatchIsNeverRedirected(t *testing.T) {
	r, store, _, now := newTestResolver(t, DefaultMatchPolicy())
	dest := "+14155550100"
	create(t, store, calls.CallRecord{CarrierCallID: "temp_1_1111", DestinationNumber: dest, StartedAt: now.Add(-2 * time.Minute)})
	latest := create(t, store, calls.CallRecord{CarrierCallID: "temp_1_2222", DestinationNumber: dest, StartedAt: now})

	res, err := r.Resolve(context.Background(), Signal{CarrierCallID: "CAreal", Direction: DirectionClient, UserID: "42"})
	require.NoError(t, err)
	assert.Equal(t, StrategyProvisional, res.Strategy)
	assert.Equal(t, latest.ID, res.Target.ID)
	assert.Equal(t, "CAreal", res.TargetCarrierID)
	assert.Nil(t, res.Linked)
	assert.False(t, res.Redirected)
}
