package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	CookieName = "cb_sid"
	HeaderName = "X-Session-Id"
)

// Middleware resolves the caller's session id from the cookie or header and
// puts it in the request context. A new id is issued as a cookie when absent.
func Middleware(secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := strings.TrimSpace(c.GetHeader(HeaderName))
		if sid == "" {
			if v, err := c.Cookie(CookieName); err == nil {
				sid = strings.TrimSpace(v)
			}
		}
		if sid == "" || len(sid) > 128 {
			sid = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, sid, 0, "/", "", secureCookie, true)
		}

		c.Request = c.Request.WithContext(WithID(c.Request.Context(), sid))
		c.Set("session_id", sid)
		c.Next()
	}
}
