package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/calls"
	"callbilling/internal/rbac"
	"callbilling/internal/reconcile"
	"callbilling/internal/reporting"
	"callbilling/internal/wallet"
	"callbilling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalls struct {
	dialReq reconcile.DialRequest
	sig     reconcile.Signal
	res     reconcile.Result
	err     error
}

func (f *fakeCalls) Dial(ctx context.Context, req reconcile.DialRequest) (reconcile.DialResult, error) {
	f.dialReq = req
	if f.err != nil {
		return reconcile.DialResult{}, f.err
	}
	return reconcile.DialResult{CallRecordID: "rec-1", TempCallID: "temp_1700000000_1234", CallerID: "+14155550000", Destination: req.Destination}, nil
}

func (f *fakeCalls) HandleClientCompletion(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error) {
	f.sig = sig
	return f.res, f.err
}

type fakeReporter struct {
	got reporting.SummaryRequest
}

func (f *fakeReporter) Summary(ctx context.Context, req reporting.SummaryRequest) (reporting.Summary, error) {
	f.got = req
	return reporting.Summary{UserID: req.UserID, Range: req.Range}, nil
}

func withIdentity(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, role))
		}
		c.Next()
	}
}

func newWallet(t *testing.T) (*wallet.Service, *wallet.MemoryRepo) {
	t.Helper()
	repo := wallet.NewMemoryRepo()
	repo.PutAccount(wallet.Account{UserID: "42", Credits: decimal.RequireFromString("10")})
	return wallet.NewService(repo, utils.NewMemoryTxRunner(repo), decimal.Zero), repo
}

func newRouter(h Handlers, userID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withIdentity(userID, role))
	r.POST("/v1/calls/dial", h.Dial)
	r.POST("/v1/calls/complete", h.CompleteCall)
	r.GET("/v1/calls", h.ListCalls)
	r.GET("/v1/wallet", h.GetBalance)
	r.GET("/v1/reports/summary", h.Summary)
	r.POST("/v1/admin/credits", h.AdminCredit)
	return r
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestDial(t *testing.T) {
	fc := &fakeCalls{}
	r := newRouter(Handlers{Calls: fc}, "42", rbac.RoleUser)

	w, out := do(r, http.MethodPost, "/v1/calls/dial", `{"destination":"+1 (415) 555-0100"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", fc.dialReq.UserID)
	assert.Equal(t, "+1 (415) 555-0100", fc.dialReq.Destination)
	assert.Equal(t, "temp_1700000000_1234", out["temp_call_id"])
	assert.Equal(t, "rec-1", out["call_record_id"])
}

func TestDial_RequiresUser(t *testing.T) {
	r := newRouter(Handlers{Calls: &fakeCalls{}}, "", "")
	w, _ := do(r, http.MethodPost, "/v1/calls/dial", `{"destination":"+14155550100"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCompleteCall(t *testing.T) {
	t.Run("settled reports balance", func(t *testing.T) {
		fc := &fakeCalls{res: reconcile.Result{Outcome: reconcile.OutcomeSettled, NewBalance: decimal.RequireFromString("9.9100")}}
		r := newRouter(Handlers{Calls: fc}, "", "")

		w, out := do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1","duration":"125","userId":"42","To":"+14155550100"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, "9.91", out["credits"])
		assert.Equal(t, reconcile.Signal{CarrierCallID: "CA1", DurationSeconds: 125, To: "+14155550100", UserID: "42"}, fc.sig)
	})

	t.Run("authenticated user wins", func(t *testing.T) {
		fc := &fakeCalls{res: reconcile.Result{Outcome: reconcile.OutcomeDuplicate}}
		r := newRouter(Handlers{Calls: fc}, "42", rbac.RoleUser)

		w, out := do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1","duration":61,"userId":"7"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "42", fc.sig.UserID)
		assert.Equal(t, 61, fc.sig.DurationSeconds)
		assert.Equal(t, "call already billed", out["message"])
	})

	t.Run("unmatched", func(t *testing.T) {
		fc := &fakeCalls{res: reconcile.Result{Outcome: reconcile.OutcomeUnmatched}}
		r := newRouter(Handlers{Calls: fc}, "", "")

		w, out := do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1","userId":"42"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, out["success"])
	})

	t.Run("settlement failure", func(t *testing.T) {
		fc := &fakeCalls{err: errors.New("db down")}
		r := newRouter(Handlers{Calls: fc}, "", "")

		w, out := do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1","userId":"42"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, "settlement failed", out["message"])
	})

	t.Run("missing fields", func(t *testing.T) {
		r := newRouter(Handlers{Calls: &fakeCalls{}}, "", "")
		w, out := do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, false, out["success"])

		w, _ = do(r, http.MethodPost, "/v1/calls/complete", `{"call_sid":"CA1","userId":"42","duration":"abc"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFlexSeconds(t *testing.T) {
	cases := map[string]int{`12`: 12, `"12"`: 12, `12.6`: 13, `null`: 0, `""`: 0, `" 7 "`: 7}
	for in, want := range cases {
		var f flexSeconds
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, int(f), in)
	}
	for _, bad := range []string{`-1`, `"x"`, `true`} {
		var f flexSeconds
		assert.Error(t, json.Unmarshal([]byte(bad), &f), bad)
	}
}

func TestListCalls(t *testing.T) {
	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	store := calls.NewMemoryStore().WithClock(func() time.Time { return now })
	_, err := store.Create(context.Background(), calls.CallRecord{UserID: "42", CarrierCallID: "CA1", DestinationNumber: "+14155550100", StartedAt: now})
	require.NoError(t, err)
	_, err = store.Create(context.Background(), calls.CallRecord{UserID: "7", CarrierCallID: "CA2", DestinationNumber: "+14155550100", StartedAt: now})
	require.NoError(t, err)

	r := newRouter(Handlers{History: store}, "42", rbac.RoleUser)
	w, out := do(r, http.MethodGet, "/v1/calls?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := out["calls"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "CA1", list[0].(map[string]any)["carrier_call_id"])

	w, _ = do(r, http.MethodGet, "/v1/calls?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBalance(t *testing.T) {
	svc, _ := newWallet(t)
	r := newRouter(Handlers{Wallet: svc}, "42", rbac.RoleUser)

	w, out := do(r, http.MethodGet, "/v1/wallet", "")
	require.Equal(t, http.StatusOK, w.Code)
	acct := out["account"].(map[string]any)
	assert.Equal(t, "10", acct["credits"])
	assert.NotContains(t, acct, "StripeCustomerID")

	r = newRouter(Handlers{Wallet: svc}, "nobody", rbac.RoleUser)
	w, _ = do(r, http.MethodGet, "/v1/wallet", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminCredit(t *testing.T) {
	svc, _ := newWallet(t)
	r := newRouter(Handlers{Wallet: svc}, "admin-1", rbac.RoleAdmin)

	body := `{"user_id":"42","amount":"2.5","reason":"goodwill","idempotency_key":"k1"}`
	w, out := do(r, http.MethodPost, "/v1/admin/credits", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12.5", out["new_balance"])

	// Same key replays without a second credit.
	w, out = do(r, http.MethodPost, "/v1/admin/credits", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["replayed"])

	bal, err := svc.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("12.5")))

	w, _ = do(r, http.MethodPost, "/v1/admin/credits", `{"user_id":"42","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummary_DefaultsToLast30Days(t *testing.T) {
	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	rep := &fakeReporter{}
	h := Handlers{Reports: rep, clock: func() time.Time { return now }}
	r := newRouter(h, "42", rbac.RoleUser)

	w, _ := do(r, http.MethodGet, "/v1/reports/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", rep.got.UserID)
	assert.Equal(t, now.Add(-30*24*time.Hour), rep.got.Range.From)
	assert.Equal(t, now, rep.got.Range.To)

	w, _ = do(r, http.MethodGet, "/v1/reports/summary?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
