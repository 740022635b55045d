package telephony

import (
	"net/http"
	"strings"

	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's HMAC of the request URL and form.
const SignatureHeader = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhook requests that Twilio did not sign.
// publicBaseURL is the externally visible scheme and host Twilio calls; when
// empty the request's own host is used. An empty authToken disables the check.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	return verifySignature(authToken, publicBaseURL, func(c *gin.Context, status int, reason string) {
		c.AbortWithStatusJSON(status, gin.H{"error": reason})
	})
}

// AcknowledgeUnsignedStatus is RequireTwilioSignature for the status callback.
// Unsigned requests are dropped but still answered 200, so a misconfigured
// base URL never turns into carrier retries.
func AcknowledgeUnsignedStatus(authToken, publicBaseURL string) gin.HandlerFunc {
	return verifySignature(authToken, publicBaseURL, func(c *gin.Context, _ int, _ string) {
		c.AbortWithStatusJSON(http.StatusOK, gin.H{"received": true, "ok": false, "outcome": "rejected"})
	})
}

func verifySignature(authToken, publicBaseURL string, reject func(c *gin.Context, status int, reason string)) gin.HandlerFunc {
	if authToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := client.NewRequestValidator(authToken)

	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			logger.FromGin(c).Warn("twilio webhook form unreadable", "err", err)
			reject(c, http.StatusBadRequest, "invalid form")
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		url := requestURL(c.Request, publicBaseURL)
		if !validator.Validate(url, params, c.GetHeader(SignatureHeader)) {
			logger.FromGin(c).Warn("twilio signature rejected", "url", url)
			reject(c, http.StatusForbidden, "invalid signature")
			return
		}
		c.Next()
	}
}

func requestURL(r *http.Request, publicBaseURL string) string {
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}
