// Package reconcile turns carrier and client call signals into exactly one
// billing decision per call.
package reconcile

import (
	"strings"
)

type Source string

const (
	SourceCarrier Source = "carrier"
	SourceClient  Source = "client"
)

// Signal is one settlement notification, from the carrier webhook or the
// browser's completion beacon. Fields the sender did not know are empty.
type Signal struct {
	Source Source

	CarrierCallID       string
	ParentCarrierCallID string

	// CarrierStatus is the raw status string as sent ("completed", "no-answer", ...).
	CarrierStatus   string
	DurationSeconds int

	From      string
	To        string
	Direction string

	// UserID is the owner the sender claims. It is a hint, never trusted to
	// rewrite a record's owner.
	UserID string
}

// DirectionClient marks a leg reported by the browser beacon.
const DirectionClient = "client"

// settleStatus is the classified carrier status.
type settleStatus int

const (
	statusIgnore settleStatus = iota
	statusBillable
	statusBusy
	statusFailed
)

func classify(sig Signal) settleStatus {
	s := strings.ToLower(strings.TrimSpace(sig.CarrierStatus))
	if s == "" && sig.Source == SourceClient {
		return statusBillable
	}
	switch s {
	case "completed", "answered":
		return statusBillable
	case "busy":
		return statusBusy
	case "failed", "no-answer", "canceled", "cancelled":
		return statusFailed
	default:
		// queued, initiated, ringing, in-progress
		return statusIgnore
	}
}
