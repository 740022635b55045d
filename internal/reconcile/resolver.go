package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/session"
	"callbilling/pkg/logger"
)

// ErrNoMatch means no call record can be settled by the signal. The signal is
// dropped; a settlement never creates a record.
var ErrNoMatch = errors.New("no call record matches signal")

// Strategy names the lookup that located a record.
type Strategy string

const (
	StrategyCarrierID   Strategy = "carrier_id"
	StrategyParentID    Strategy = "parent_id"
	StrategySessionHint Strategy = "session_hint"
	StrategyProvisional Strategy = "provisional"
)

// Resolution is where a signal's settlement lands.
type Resolution struct {
	// Target carries the cost.
	Target calls.CallRecord

	// TargetCarrierID, when set, replaces Target's temporary carrier id.
	TargetCarrierID string

	// Linked is settled unbilled with RelatedCallID = Target.ID.
	Linked          *calls.CallRecord
	LinkedCarrierID string

	// PricingCallID is the carrier id the price is looked up by.
	PricingCallID string

	Strategy Strategy

	// Redirected is true when leg de-duplication moved the cost away from the
	// record the signal located.
	Redirected bool
}

// Resolver finds the single record a signal should settle.
//
// Precedence, first hit wins:
//  1. carrier id, then the parent carrier id
//  2. the session hint, when it points at a provisional record of the signal's user
//  3. the user's newest provisional record
//
// A record matched by its own carrier id may then hand its cost to a sibling
// leg of the same call. Hint and provisional matches are never redirected.
type Resolver struct {
	calls  calls.Store
	hints  session.Store
	policy MatchPolicy
	clock  func() time.Time
}

func NewResolver(store calls.Store, hints session.Store, policy MatchPolicy) *Resolver {
	return &Resolver{calls: store, hints: hints, policy: policy.withDefaults(), clock: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, sig Signal) (Resolution, error) {
	located, strategy, err := r.locate(ctx, sig)
	if err != nil {
		return Resolution{}, err
	}

	if sig.UserID != "" && located.UserID != sig.UserID {
		if sig.Source == SourceClient {
			return Resolution{}, fmt.Errorf("%w: record %s belongs to another user", ErrNoMatch, located.ID)
		}
		logger.From(ctx).Warn("carrier signal user differs from record owner",
			slog.String("call_record_id", located.ID),
			slog.String("signal_user_id", sig.UserID),
		)
	}

	res := Resolution{Target: located, Strategy: strategy, PricingCallID: sig.CarrierCallID}
	if strategy == StrategySessionHint || strategy == StrategyProvisional {
		res.TargetCarrierID = promoteID(sig)
	}
	if res.PricingCallID == "" {
		res.PricingCallID = located.CarrierCallID
	}
	if located.IsTerminal() {
		return res, nil
	}

	if strategy != StrategyCarrierID {
		return res, nil
	}
	if sig.ParentCarrierCallID != "" && sig.ParentCarrierCallID != sig.CarrierCallID {
		return r.dedupeParent(ctx, sig, res)
	}
	if r.policy.IsClientLeg(sig) {
		return r.dedupeSibling(ctx, sig, res)
	}
	return res, nil
}

func (r *Resolver) locate(ctx context.Context, sig Signal) (calls.CallRecord, Strategy, error) {
	if rec, ok, err := r.byCarrierID(ctx, sig.CarrierCallID); err != nil || ok {
		return rec, StrategyCarrierID, err
	}
	if rec, ok, err := r.byCarrierID(ctx, sig.ParentCarrierCallID); err != nil || ok {
		return rec, StrategyParentID, err
	}

	if rec, ok := r.byHint(ctx, sig); ok {
		return rec, StrategySessionHint, nil
	}

	if sig.UserID != "" {
		var notBefore time.Time
		if r.policy.ProvisionalMaxAge > 0 {
			notBefore = r.clock().Add(-r.policy.ProvisionalMaxAge)
		}
		rec, err := r.calls.FindLatestProvisional(ctx, sig.UserID, notBefore)
		switch {
		case err == nil:
			return rec, StrategyProvisional, nil
		case !errors.Is(err, calls.ErrNotFound):
			return calls.CallRecord{}, "", fmt.Errorf("find provisional: %w", err)
		}
	}
	return calls.CallRecord{}, "", ErrNoMatch
}

func (r *Resolver) byCarrierID(ctx context.Context, id string) (calls.CallRecord, bool, error) {
	if id == "" {
		return calls.CallRecord{}, false, nil
	}
	rec, err := r.calls.GetByCarrierID(ctx, id)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, calls.ErrNotFound):
		return calls.CallRecord{}, false, nil
	default:
		return calls.CallRecord{}, false, fmt.Errorf("lookup carrier id %s: %w", id, err)
	}
}

// byHint follows the session hint. The hint is weak: any failure is logged and
// treated as a miss.
func (r *Resolver) byHint(ctx context.Context, sig Signal) (calls.CallRecord, bool) {
	if r.hints == nil || sig.UserID == "" {
		return calls.CallRecord{}, false
	}
	sid, ok := session.IDFromContext(ctx)
	if !ok {
		return calls.CallRecord{}, false
	}

	h, ok, err := r.hints.Get(ctx, sid)
	if err != nil {
		logger.From(ctx).Warn("session hint lookup failed", slog.Any("err", err))
		return calls.CallRecord{}, false
	}
	if !ok || h.CallRecordID == "" {
		return calls.CallRecord{}, false
	}

	rec, err := r.calls.Get(ctx, h.CallRecordID)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			logger.From(ctx).Warn("hinted call record lookup failed", slog.String("call_record_id", h.CallRecordID), slog.Any("err", err))
		}
		return calls.CallRecord{}, false
	}
	if rec.UserID != sig.UserID || !rec.IsProvisional() {
		return calls.CallRecord{}, false
	}
	return rec, true
}

// dedupeParent handles a child leg matched by its own id whose parent leg has
// a record too. A billed parent absorbs the child; otherwise the child carries
// the cost and the parent is linked to it.
func (r *Resolver) dedupeParent(ctx context.Context, sig Signal, res Resolution) (Resolution, error) {
	parent, ok, err := r.byCarrierID(ctx, sig.ParentCarrierCallID)
	if err != nil {
		return Resolution{}, err
	}
	if !ok || parent.ID == res.Target.ID || parent.UserID != res.Target.UserID {
		return res, nil
	}

	switch {
	case parent.IsBilled():
		child := res.Target
		res.Target = parent
		res.Linked = &child
		res.Redirected = true
	case !parent.IsTerminal():
		res.Linked = &parent
	}
	return res, nil
}

// dedupeSibling moves the cost of a client leg onto the other leg of the same
// call when one exists.
func (r *Resolver) dedupeSibling(ctx context.Context, sig Signal, res Resolution) (Resolution, error) {
	sibling, ok, err := r.findSibling(ctx, res.Target)
	if err != nil || !ok {
		return res, err
	}

	located := res.Target
	res.Linked = &located
	res.LinkedCarrierID = res.TargetCarrierID
	res.Target = sibling
	res.TargetCarrierID = ""
	res.Redirected = true
	if !calls.IsTempCallID(sibling.CarrierCallID) {
		res.PricingCallID = sibling.CarrierCallID
	}
	return res, nil
}

// findSibling applies the sibling predicate: same user, same normalized
// destination, start within SiblingWindow, not linked, not failed or busy, and
// not already finished before rec started. A billed sibling is preferred,
// then the newest.
func (r *Resolver) findSibling(ctx context.Context, rec calls.CallRecord) (calls.CallRecord, bool, error) {
	if rec.DestinationNumber == "" || rec.DestinationNumber == calls.UnknownDestination {
		return calls.CallRecord{}, false, nil
	}
	candidates, err := r.calls.FindRecentByUserAndDestination(ctx, rec.UserID, rec.DestinationNumber, rec.StartedAt, r.policy.SiblingWindow)
	if err != nil {
		return calls.CallRecord{}, false, fmt.Errorf("find sibling legs: %w", err)
	}

	var newest *calls.CallRecord
	for i := range candidates {
		c := candidates[i]
		if c.ID == rec.ID || c.IsLinked() {
			continue
		}
		if c.Status == calls.CallStatusFailed || c.Status == calls.CallStatusBusy {
			continue
		}
		if c.EndedAt != nil && c.EndedAt.Before(rec.StartedAt) {
			continue
		}
		if c.IsBilled() {
			return c, true, nil
		}
		if newest == nil {
			newest = &candidates[i]
		}
	}
	if newest == nil {
		return calls.CallRecord{}, false, nil
	}
	return *newest, true, nil
}

// promoteID is the real carrier id a provisional record takes on. The parent
// leg's id wins so later signals for either leg find the record.
func promoteID(sig Signal) string {
	if sig.ParentCarrierCallID != "" {
		return sig.ParentCarrierCallID
	}
	return sig.CarrierCallID
}
