package rbac

import (
	"net/http"

	"callbilling/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireUser enforces that a verified caller is present. Every billing
// operation is scoped to that user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.IdentityFrom(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows the listed roles. Admins pass every check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		switch {
		case !ok || id.Role == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case Allows(id.Role, allowed...):
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}

// Allows reports whether role may act where allowed roles are required.
func Allows(role string, allowed ...string) bool {
	if IsAdmin(role) {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
