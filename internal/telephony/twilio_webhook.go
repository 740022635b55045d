package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"callbilling/internal/reconcile"
)

// ClientIdentityPrefix is how Twilio Voice SDK legs name the browser in From.
const ClientIdentityPrefix = "client:"

// StatusCallback captures the subset of Twilio status callback fields billing
// needs. Twilio sends application/x-www-form-urlencoded.
type StatusCallback struct {
	CallSid       string
	ParentCallSid string
	CallStatus    string
	CallDuration  int
	From          string
	To            string
	Direction     string

	// UserID comes from the user_id query parameter we put on the callback
	// URL, else from a client:<id> From.
	UserID string
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	f := StatusCallback{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		ParentCallSid: strings.TrimSpace(r.PostFormValue("ParentCallSid")),
		CallStatus:    strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		From:          strings.TrimSpace(r.PostFormValue("From")),
		To:            strings.TrimSpace(r.PostFormValue("To")),
		Direction:     strings.TrimSpace(r.PostFormValue("Direction")),
		UserID:        strings.TrimSpace(r.URL.Query().Get("user_id")),
	}
	// A missing or malformed duration is billed as zero seconds.
	if n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("CallDuration"))); err == nil && n > 0 {
		f.CallDuration = n
	}
	if f.UserID == "" {
		f.UserID = ClientIdentity(f.From)
	}
	return f, nil
}

// ClientIdentity returns the identity of a client:<id> address, or "".
func ClientIdentity(addr string) string {
	if !strings.HasPrefix(addr, ClientIdentityPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(addr, ClientIdentityPrefix))
}

func (f StatusCallback) Signal() reconcile.Signal {
	return reconcile.Signal{
		Source:              reconcile.SourceCarrier,
		CarrierCallID:       f.CallSid,
		ParentCarrierCallID: f.ParentCallSid,
		CarrierStatus:       f.CallStatus,
		DurationSeconds:     f.CallDuration,
		From:                f.From,
		To:                  f.To,
		Direction:           f.Direction,
		UserID:              f.UserID,
	}
}

// VoiceRequest is the voice URL request Twilio makes when the browser starts a call.
type VoiceRequest struct {
	CallSid string
	From    string
	To      string
	UserID  string
}

func ParseVoiceRequest(r *http.Request) (VoiceRequest, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceRequest{}, err
	}
	v := VoiceRequest{
		CallSid: strings.TrimSpace(r.PostFormValue("CallSid")),
		From:    strings.TrimSpace(r.PostFormValue("From")),
		To:      strings.TrimSpace(r.PostFormValue("To")),
	}
	v.UserID = ClientIdentity(v.From)
	return v, nil
}
