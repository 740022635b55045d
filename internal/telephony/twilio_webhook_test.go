package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"callbilling/internal/reconcile"
)

func formRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseStatusCallback(t *testing.T) {
	r := formRequest("/webhooks/twilio/status?user_id=42", url.Values{
		"CallSid":       {"CAchild"},
		"ParentCallSid": {"CAparent"},
		"CallStatus":    {"Completed"},
		"CallDuration":  {"125"},
		"From":          {"+15550001111"},
		"To":            {"+14155550100"},
		"Direction":     {"outbound-dial"},
	})

	form, err := ParseStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CAchild" || form.ParentCallSid != "CAparent" {
		t.Fatalf("unexpected sids: %+v", form)
	}
	if form.CallStatus != "completed" || form.CallDuration != 125 || form.UserID != "42" {
		t.Fatalf("unexpected fields: %+v", form)
	}

	sig := form.Signal()
	if sig.Source != reconcile.SourceCarrier || sig.ParentCarrierCallID != "CAparent" || sig.DurationSeconds != 125 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestParseStatusCallback_UserFromClientIdentity(t *testing.T) {
	r := formRequest("/webhooks/twilio/status", url.Values{
		"CallSid":      {"CAparent"},
		"CallStatus":   {"completed"},
		"CallDuration": {"not-a-number"},
		"From":         {"client:77"},
	})

	form, err := ParseStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.UserID != "77" {
		t.Fatalf("expected user 77, got %q", form.UserID)
	}
	if form.CallDuration != 0 {
		t.Fatalf("expected zero duration, got %d", form.CallDuration)
	}
}

func TestClientIdentity(t *testing.T) {
	if got := ClientIdentity("client:abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := ClientIdentity("+15550001111"); got != "" {
		t.Fatalf("got %q", got)
	}
}
