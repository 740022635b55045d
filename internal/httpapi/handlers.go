package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbilling/internal/audit"
	"callbilling/internal/auth"
	"callbilling/internal/calls"
	"callbilling/internal/reconcile"
	"callbilling/internal/reporting"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CallService is what the call endpoints need from reconciliation.
type CallService interface {
	Dial(ctx context.Context, req reconcile.DialRequest) (reconcile.DialResult, error)
	HandleClientCompletion(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

type CallHistory interface {
	ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]calls.CallRecord, error)
}

type WalletService interface {
	Account(ctx context.Context, userID string) (wallet.Account, error)
	Entries(ctx context.Context, userID string, limit int) ([]wallet.LedgerEntry, error)
	AdminCredit(ctx context.Context, userID, adminUserID, adminRole string, req wallet.AdminCreditRequest) (wallet.Result, error)
}

type Reporter interface {
	Summary(ctx context.Context, req reporting.SummaryRequest) (reporting.Summary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   CallService
	History CallHistory
	Wallet  WalletService
	Reports Reporter

	clock func() time.Time
}

const (
	defaultListLimit    = 50
	defaultReportWindow = 30 * 24 * time.Hour
)

func (h Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// --- Calls ---

type dialRequest struct {
	Destination string `json:"destination"`
	To          string `json:"To"`
}

// Dial creates the provisional call record before the browser starts dialing.
func (h Handlers) Dial(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	dest := req.Destination
	if dest == "" {
		dest = req.To
	}

	res, err := h.Calls.Dial(c.Request.Context(), reconcile.DialRequest{UserID: userID, Destination: dest})
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid dial request"})
			return
		}
		logger.FromGin(c).Error("dial failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dial failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type completeRequest struct {
	CallSid  string      `json:"call_sid"`
	Duration flexSeconds `json:"duration"`
	UserID   string      `json:"userId"`
	To       string      `json:"To"`
}

// CompleteCall accepts the browser's end-of-call beacon. An authenticated
// identity wins over the userId in the body.
func (h Handlers) CompleteCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	req.CallSid = strings.TrimSpace(req.CallSid)
	if req.CallSid == "" || userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "call_sid and userId are required"})
		return
	}

	res, err := h.Calls.HandleClientCompletion(c.Request.Context(), reconcile.Signal{
		CarrierCallID:   req.CallSid,
		DurationSeconds: int(req.Duration),
		To:              req.To,
		UserID:          userID,
	})
	switch {
	case err == nil && res.Outcome == reconcile.OutcomeUnmatched:
		log.Warn("completion beacon unmatched", "call_sid", req.CallSid, "user_id", userID)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "call not found"})
		return
	case err != nil:
		log.Error("completion beacon settlement failed", "call_sid", req.CallSid, "user_id", userID, "err", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "settlement failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"credits": res.NewBalance.StringFixed(2),
		"message": completionMessage(res),
	})
}

func completionMessage(res reconcile.Result) string {
	switch res.Outcome {
	case reconcile.OutcomeSettled:
		return "call settled"
	case reconcile.OutcomeDuplicate, reconcile.OutcomeLinked:
		return "call already billed"
	default:
		return "call recorded"
	}
}

// ListCalls returns the caller's call history, newest first.
func (h Handlers) ListCalls(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	from, to, err := queryRange(c, time.Time{}, time.Time{})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.History.ListByUser(c.Request.Context(), userID, from, to, limit)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if out == nil {
		out = []calls.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// --- Wallet ---

// GetBalance returns the caller's account and most recent ledger entries.
func (h Handlers) GetBalance(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	acct, err := h.Wallet.Account(ctx, userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		logger.FromGin(c).Error("balance lookup failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	entries, err := h.Wallet.Entries(ctx, userID, 20)
	if err != nil {
		logger.FromGin(c).Error("ledger lookup failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger lookup failed"})
		return
	}
	if entries == nil {
		entries = []wallet.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "entries": entries})
}

type adminCreditRequest struct {
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// AdminCredit performs an admin-only manual credit.
// RBAC: admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	res, err := h.Wallet.AdminCredit(ctx, req.UserID, adminUserID, adminRole, wallet.AdminCreditRequest{
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, wallet.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount, reason and idempotency_key required"})
	case errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
	default:
		logger.FromGin(c).Error("admin credit failed", "user_id", req.UserID, "admin_user_id", adminUserID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
	}
}

// --- Reports ---

// Summary reports the caller's calls and spend, by default over the last 30 days.
func (h Handlers) Summary(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	now := h.now().UTC()
	from, to, err := queryRange(c, now.Add(-defaultReportWindow), now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sum, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{
		UserID: userID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("summary failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- helpers ---

func requireUserID(c *gin.Context) (string, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return userID, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func queryRange(c *gin.Context, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	from, to := defFrom, defTo
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = t
	}
	return from, to, nil
}
