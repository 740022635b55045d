package calls

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeDestination(t *testing.T) {
	cases := map[string]string{
		"":                  UnknownDestination,
		"  ":                UnknownDestination,
		"unknown":           UnknownDestination,
		"(415) 555-0100":    "+14155550100",
		"1 415 555 0100":    "+14155550100",
		"+44 20 7946 0958":  "+442079460958",
		"0044 20 7946 0958": "+442079460958",
		"+1-415-555-0100":   "+14155550100",
	}
	for in, want := range cases {
		if got := NormalizeDestination(in); got != want {
			t.Fatalf("NormalizeDestination(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewTempCallID(t *testing.T) {
	id := NewTempCallID(time.Unix(1700000000, 0))
	if !strings.HasPrefix(id, "temp_1700000000_") {
		t.Fatalf("unexpected temp id %q", id)
	}
	if !IsTempCallID(id) {
		t.Fatalf("expected temp id to be recognized")
	}
	if IsTempCallID("CA123") {
		t.Fatalf("carrier id must not look temporary")
	}
}

func TestCallRecord_States(t *testing.T) {
	prov := CallRecord{CarrierCallID: "temp_1_1234", Status: CallStatusInitiated}
	if !prov.IsProvisional() || prov.IsTerminal() {
		t.Fatalf("expected provisional non-terminal record")
	}

	zero := CallRecord{CarrierCallID: "CA1", Status: CallStatusCompleted, CreditsUsed: decimal.Zero}
	if zero.IsBilled() || zero.IsTerminal() {
		t.Fatalf("zero-credit completion must stay open")
	}

	billed := CallRecord{CarrierCallID: "CA1", Status: CallStatusCompleted, CreditsUsed: decimal.RequireFromString("0.18")}
	if !billed.IsBilled() || !billed.IsTerminal() {
		t.Fatalf("expected billed terminal record")
	}

	linked := CallRecord{Status: CallStatusCompleted, RelatedCallID: "x"}
	if !linked.IsTerminal() {
		t.Fatalf("linked record must be terminal")
	}

	for _, s := range []CallStatus{CallStatusFailed, CallStatusBusy} {
		if !(CallRecord{Status: s}).IsTerminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestIsDialable(t *testing.T) {
	cases := map[string]bool{
		"+447700900123":    true,
		"+15551234567":     true,
		"client:u1":        false,
		"+1234":            false,
		"15551234567":      false,
		UnknownDestination: false,
	}
	for in, want := range cases {
		if got := IsDialable(in); got != want {
			t.Errorf("IsDialable(%q) = %v, want %v", in, got, want)
		}
	}
}
