package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, m)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAccessToken injects identity when a valid access token is present and
// lets the request through either way. Used by the completion beacon, which may
// be sent by a page that is already unloading.
func OptionalAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := bearerClaims(c, m); ok {
			setIdentity(c, claims)
		}
		c.Next()
	}
}

func bearerClaims(c *gin.Context, m *Manager) (Claims, bool) {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return Claims{}, false
	}
	claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
	if err != nil {
		return Claims{}, false
	}
	return claims, true
}

func setIdentity(c *gin.Context, claims Claims) {
	ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
	c.Request = c.Request.WithContext(ctx)

	// Also store on gin context for handler convenience.
	c.Set("user_id", claims.UserID)
	c.Set("role", claims.Role)
}
