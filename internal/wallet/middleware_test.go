package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"callbilling/internal/auth"
	"callbilling/internal/rbac"

	"github.com/gin-gonic/gin"
)

type fakeMinimumChecker struct {
	err error
}

func (f fakeMinimumChecker) CheckMinimum(ctx context.Context, userID string) error {
	return f.err
}

func serveWithRole(t *testing.T, role string, svc MinimumChecker) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireMinimumBalance(svc), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireMinimumBalance_BlocksWhenInsufficient(t *testing.T) {
	if code := serveWithRole(t, rbac.RoleUser, fakeMinimumChecker{err: ErrInsufficientFunds}); code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", code)
	}
}

func TestRequireMinimumBalance_AllowsWhenFunded(t *testing.T) {
	if code := serveWithRole(t, rbac.RoleUser, fakeMinimumChecker{}); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireMinimumBalance_AdminBypasses(t *testing.T) {
	if code := serveWithRole(t, rbac.RoleAdmin, fakeMinimumChecker{err: ErrInsufficientFunds}); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
