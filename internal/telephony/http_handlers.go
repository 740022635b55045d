package telephony

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"callbilling/internal/calls"
	"callbilling/internal/reconcile"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusReconciler settles carrier status callbacks.
type StatusReconciler interface {
	HandleCarrierStatus(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

type CallerIDSelector interface {
	SelectCallerID(ctx context.Context, destination string) (string, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types and
// delegates to the reconciliation service. No business logic here.
type TwilioWebhookHandler struct {
	Reconciler StatusReconciler
	CallerIDs  CallerIDSelector

	// PublicBaseURL is where Twilio reaches this service, used to build status callback URLs.
	PublicBaseURL string
}

// HandleStatusCallback always answers 200, whatever the settlement outcome.
func (h TwilioWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"received": true, "ok": false, "outcome": "invalid"})
		return
	}

	res, err := h.Reconciler.HandleCarrierStatus(c.Request.Context(), form.Signal())
	if err != nil {
		log.Error("status callback settlement failed", "call_sid", form.CallSid, "err", err)
		c.JSON(http.StatusOK, gin.H{"received": true, "ok": false, "outcome": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "ok": true, "outcome": res.Outcome})
}

// HandleVoice answers the browser leg with a <Dial> to the requested number.
// The dialed leg reports back to the status callback tagged with the user.
func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	req, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("twilio voice request parse failed", "err", err)
		h.reject(c)
		return
	}
	dest := calls.NormalizeDestination(req.To)
	if !calls.IsDialable(dest) {
		log.Warn("voice request without dialable destination", "call_sid", req.CallSid, "to", req.To)
		h.reject(c)
		return
	}

	var callerID string
	if h.CallerIDs != nil {
		if callerID, err = h.CallerIDs.SelectCallerID(c.Request.Context(), dest); err != nil {
			log.Error("caller id selection failed", "err", err)
			h.reject(c)
			return
		}
	}

	twiml, err := RenderDial(DialInstruction{
		CallerID:          callerID,
		Number:            dest,
		StatusCallbackURL: h.statusCallbackURL(req.UserID),
	})
	if err != nil {
		log.Error("twiml render failed", "err", err)
		h.reject(c)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) statusCallbackURL(userID string) string {
	base := strings.TrimRight(h.PublicBaseURL, "/")
	if base == "" {
		return ""
	}
	u := base + "/webhooks/twilio/status"
	if userID != "" {
		u += "?" + url.Values{"user_id": {userID}}.Encode()
	}
	return u
}

func (h TwilioWebhookHandler) reject(c *gin.Context) {
	twiml, err := RenderReject("rejected")
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
