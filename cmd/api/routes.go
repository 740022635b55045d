package main

import (
	"net/http"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/config"
	"callbilling/internal/httpapi"
	"callbilling/internal/rbac"
	"callbilling/internal/session"
	"callbilling/internal/telephony"
	"callbilling/internal/wallet"
	"callbilling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks. Signed by Twilio when validation is on.
	{
		token := ""
		if cfg.Twilio.ValidateSignatures {
			token = cfg.Twilio.AuthToken
		}
		h := telephony.TwilioWebhookHandler{
			Reconciler:    a.reconcile,
			CallerIDs:     a.callerIDs,
			PublicBaseURL: cfg.App.PublicBaseURL,
		}
		hooks := r.Group("/webhooks/twilio")
		hooks.POST("/voice", telephony.RequireTwilioSignature(token, cfg.App.PublicBaseURL), h.HandleVoice)
		hooks.POST("/status", telephony.AcknowledgeUnsignedStatus(token, cfg.App.PublicBaseURL), h.HandleStatusCallback)
	}

	h := httpapi.Handlers{
		Calls:   a.reconcile,
		History: a.calls,
		Wallet:  a.wallet,
		Reports: a.reports,
	}

	v1 := r.Group("/v1")
	v1.Use(session.Middleware(cfg.IsProduction()))

	// The completion beacon may arrive from an unloading page without a token.
	v1.POST("/calls/complete", auth.OptionalAccessToken(authManager), h.CompleteCall)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(authManager), rbac.RequireUser())
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleUser))
		{
			calls.POST("/dial", wallet.RequireMinimumBalance(a.wallet), h.Dial)
			calls.GET("", h.ListCalls)
		}

		protected.GET("/wallet", h.GetBalance)
		protected.GET("/reports/summary", h.Summary)

		// ADMIN routes
		admin := protected.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/credits", h.AdminCredit)
		}
	}
}
