package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"

	"github.com/gin-gonic/gin"
)

// sign reproduces Twilio's scheme: HMAC-SHA1 over the URL followed by the
// sorted form keys and values.
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := u
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func serveSigned(t *testing.T, token, signature string, form url.Values) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", RequireTwilioSignature(token, "https://api.example.com"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := formRequest("/webhooks/twilio/status?user_id=42", form)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireTwilioSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	good := sign("secret", "https://api.example.com/webhooks/twilio/status?user_id=42", form)

	if code := serveSigned(t, "secret", good, form); code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", code)
	}
	if code := serveSigned(t, "secret", "forged", form); code != http.StatusForbidden {
		t.Fatalf("expected 403 for forged signature, got %d", code)
	}
	if code := serveSigned(t, "secret", "", form); code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing signature, got %d", code)
	}
}

func TestRequireTwilioSignature_DisabledWithoutToken(t *testing.T) {
	if code := serveSigned(t, "", "", url.Values{"CallSid": {"CA1"}}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequestURLFallsBackToHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://internal:8080/webhooks/twilio/status?user_id=1", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := requestURL(r, ""); got != "https://internal:8080/webhooks/twilio/status?user_id=1" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestAcknowledgeUnsignedStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reached := false
	r := gin.New()
	r.POST("/webhooks/twilio/status", AcknowledgeUnsignedStatus("secret", "https://wrong.example.com"), func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	req := formRequest("/webhooks/twilio/status?user_id=42", form)
	req.Header.Set(SignatureHeader, sign("secret", "https://api.example.com/webhooks/twilio/status?user_id=42", form))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for status callback, got %d", w.Code)
	}
	if reached {
		t.Fatalf("unsigned status callback must not reach the handler")
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["received"] != true || body["ok"] != false || body["outcome"] != "rejected" {
		t.Fatalf("unexpected body %v", body)
	}
}
