package reconcile

import (
	"strings"
	"time"
)

// MatchPolicy holds the knobs of record matching and leg de-duplication.
type MatchPolicy struct {
	// SiblingWindow bounds |start difference| between two legs of the same call.
	SiblingWindow time.Duration

	// ProvisionalMaxAge bounds how old a provisional record may be and still be
	// matched by user alone. Zero means unbounded.
	ProvisionalMaxAge time.Duration

	// ClientLegPrefix marks a browser identity in the From field.
	ClientLegPrefix string
}

func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		SiblingWindow:   10 * time.Minute,
		ClientLegPrefix: "client:",
	}
}

func (p MatchPolicy) withDefaults() MatchPolicy {
	d := DefaultMatchPolicy()
	if p.SiblingWindow <= 0 {
		p.SiblingWindow = d.SiblingWindow
	}
	if p.ClientLegPrefix == "" {
		p.ClientLegPrefix = d.ClientLegPrefix
	}
	if p.ProvisionalMaxAge < 0 {
		p.ProvisionalMaxAge = 0
	}
	return p
}

// IsClientLeg reports whether the signal describes the browser-originated leg.
func (p MatchPolicy) IsClientLeg(sig Signal) bool {
	switch strings.ToLower(sig.Direction) {
	case "inbound", DirectionClient:
		return true
	}
	return p.ClientLegPrefix != "" && strings.HasPrefix(sig.From, p.ClientLegPrefix)
}
