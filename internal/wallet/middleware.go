package wallet

import (
	"context"
	"errors"
	"net/http"

	"callbilling/internal/auth"
	"callbilling/internal/rbac"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// MinimumChecker is the minimal wallet interface needed by middleware.
type MinimumChecker interface {
	CheckMinimum(ctx context.Context, userID string) error
}

// RequireMinimumBalance blocks call placement when the caller's balance is
// below the configured minimum. Admins bypass the check.
func RequireMinimumBalance(svc MinimumChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsAdmin(role) {
			c.Next()
			return
		}

		userID, err := auth.UserID(c.Request.Context())
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		switch err := svc.CheckMinimum(c.Request.Context(), userID); {
		case err == nil:
			c.Next()
		case errors.Is(err, ErrInsufficientFunds):
			// 402 Payment Required is semantically appropriate.
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		case errors.Is(err, ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		default:
			logger.FromGin(c).Error("balance check failed", "user_id", userID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		}
	}
}
