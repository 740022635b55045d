package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/pricing"
	"callbilling/internal/session"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
	"callbilling/pkg/utils"

	"github.com/shopspring/decimal"
)

// Ledger is the slice of the credit ledger reconciliation needs.
type Ledger interface {
	Debit(ctx context.Context, userID string, req wallet.DebitRequest) (wallet.Result, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

type CostEstimator interface {
	Estimate(ctx context.Context, carrierCallID string, durationSeconds int, multiplier decimal.Decimal) pricing.Estimate
}

// TopupTrigger runs after a committed debit. It must not fail the settlement.
type TopupTrigger interface {
	AfterDebit(ctx context.Context, userID string, newBalance decimal.Decimal, debitRef string)
}

type CallerIDSelector interface {
	SelectCallerID(ctx context.Context, destination string) (string, error)
}

var ErrInvalidArgument = errors.New("invalid argument")

// errDuplicate aborts the settlement transaction when the locked re-check
// finds the work already done.
var errDuplicate = errors.New("already settled")

type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeLinked    Outcome = "linked"
	OutcomeUnmatched Outcome = "unmatched"
)

// Result describes what one signal did.
type Result struct {
	Outcome       Outcome         `json:"outcome"`
	CallRecordID  string          `json:"call_record_id,omitempty"`
	LinkedCallID  string          `json:"linked_call_id,omitempty"`
	Credits       decimal.Decimal `json:"credits"`
	PricingSource pricing.Source  `json:"pricing_source,omitempty"`
	Strategy      Strategy        `json:"strategy,omitempty"`

	// Redirected is set when the cost moved to another leg of the same call.
	Redirected bool `json:"redirected,omitempty"`

	// NewBalance is the owner's balance after the signal. Set when a debit
	// happened, and for client signals.
	NewBalance decimal.Decimal `json:"new_balance"`
}

type DialRequest struct {
	UserID      string `json:"user_id"`
	Destination string `json:"destination"`
}

type DialResult struct {
	CallRecordID string `json:"call_record_id"`
	TempCallID   string `json:"temp_call_id"`
	CallerID     string `json:"caller_id,omitempty"`
	Destination  string `json:"destination"`
}

// Deps are the collaborators of Service. Hints, Topup and CallerIDs are optional.
type Deps struct {
	Calls     calls.Store
	Hints     session.Store
	Pricing   CostEstimator
	Ledger    Ledger
	Tx        utils.TxRunner
	Topup     TopupTrigger
	CallerIDs CallerIDSelector
	Policy    MatchPolicy
}

// Service is the single entry point for dial attempts and settlement signals.
//
// Billing invariants:
// - At most one debit per logical call, whatever the number or order of signals
// - The idempotency guard runs before pricing, again under the row lock, and a
//   third time in the conditional update
// - Record settlement and debit commit together or not at all
// - Auto top-up runs only after commit and never fails a settlement
type Service struct {
	calls     calls.Store
	hints     session.Store
	resolver  *Resolver
	pricing   CostEstimator
	ledger    Ledger
	tx        utils.TxRunner
	topup     TopupTrigger
	callerIDs CallerIDSelector
	clock     func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		calls:     d.Calls,
		hints:     d.Hints,
		resolver:  NewResolver(d.Calls, d.Hints, d.Policy),
		pricing:   d.Pricing,
		ledger:    d.Ledger,
		tx:        d.Tx,
		topup:     d.Topup,
		callerIDs: d.CallerIDs,
		clock:     time.Now,
	}
}

// Dial creates the provisional record for an outbound call and remembers it in
// the caller's session.
func (s *Service) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if req.UserID == "" {
		return DialResult{}, ErrInvalidArgument
	}
	dest := calls.NormalizeDestination(req.Destination)

	var callerID string
	if s.callerIDs != nil && dest != calls.UnknownDestination {
		id, err := s.callerIDs.SelectCallerID(ctx, dest)
		if err != nil {
			return DialResult{}, fmt.Errorf("select caller id: %w", err)
		}
		callerID = id
	}

	now := s.clock().UTC()
	var (
		rec calls.CallRecord
		err error
	)
	// A temp id collision is possible within one second; one retry is enough.
	for attempt := 0; attempt < 2; attempt++ {
		rec, err = s.calls.Create(ctx, calls.CallRecord{
			CarrierCallID:     calls.NewTempCallID(now),
			UserID:            req.UserID,
			DestinationNumber: dest,
			Status:            calls.CallStatusInitiated,
			Direction:         "outbound",
			StartedAt:         now,
		})
		if !errors.Is(err, calls.ErrDuplicateCarrierID) {
			break
		}
	}
	if err != nil {
		return DialResult{}, fmt.Errorf("create call record: %w", err)
	}

	if sid, ok := session.IDFromContext(ctx); ok && s.hints != nil {
		h := session.Hint{TempCallID: rec.CarrierCallID, CallRecordID: rec.ID, Destination: dest, CreatedAt: now}
		if err := s.hints.Put(ctx, sid, h); err != nil {
			logger.From(ctx).Warn("session hint not stored", slog.String("call_record_id", rec.ID), slog.Any("err", err))
		}
	}

	logger.From(ctx).Info("call dialed",
		slog.String("call_record_id", rec.ID),
		slog.String("user_id", req.UserID),
		slog.String("temp_call_id", rec.CarrierCallID),
	)
	return DialResult{CallRecordID: rec.ID, TempCallID: rec.CarrierCallID, CallerID: callerID, Destination: dest}, nil
}

// HandleCarrierStatus settles a carrier status callback.
func (s *Service) HandleCarrierStatus(ctx context.Context, sig Signal) (Result, error) {
	sig.Source = SourceCarrier
	return s.settle(ctx, sig)
}

// HandleClientCompletion settles the browser's end-of-call beacon.
func (s *Service) HandleClientCompletion(ctx context.Context, sig Signal) (Result, error) {
	sig.Source = SourceClient
	if sig.Direction == "" {
		sig.Direction = DirectionClient
	}
	if sig.UserID == "" {
		return Result{}, ErrInvalidArgument
	}
	res, err := s.settle(ctx, sig)
	if err != nil {
		return res, err
	}
	if res.Outcome != OutcomeUnmatched && res.Outcome != OutcomeIgnored && res.NewBalance.IsZero() {
		if bal, err := s.ledger.Balance(ctx, sig.UserID); err == nil {
			res.NewBalance = bal
		} else {
			logger.From(ctx).Warn("balance lookup after settlement failed", slog.Any("err", err))
		}
	}
	return res, nil
}

func (s *Service) settle(ctx context.Context, sig Signal) (res Result, err error) {
	start := time.Now()
	defer func() { observeSettlement(sig.Source, res.Outcome, err, time.Since(start)) }()

	log := logger.From(ctx).With(
		slog.String("source", string(sig.Source)),
		slog.String("carrier_call_id", sig.CarrierCallID),
	)

	status := classify(sig)
	if status == statusIgnore {
		log.Debug("non-final call status acknowledged", slog.String("status", sig.CarrierStatus))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	rsl, err := s.resolver.Resolve(ctx, sig)
	if errors.Is(err, ErrNoMatch) {
		log.Info("settlement signal dropped", slog.String("reason", err.Error()), slog.String("user_id", sig.UserID))
		return Result{Outcome: OutcomeUnmatched}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve: %w", err)
	}

	res = Result{CallRecordID: rsl.Target.ID, Strategy: rsl.Strategy, Redirected: rsl.Redirected}
	if rsl.Linked != nil {
		res.LinkedCallID = rsl.Linked.ID
	}
	if isDone(rsl.Target, rsl.Linked) {
		log.Info("duplicate settlement ignored", slog.String("call_record_id", rsl.Target.ID))
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	var est pricing.Estimate
	if status == statusBillable && !rsl.Target.IsTerminal() {
		est = s.pricing.Estimate(ctx, rsl.PricingCallID, sig.DurationSeconds, decimal.Zero)
	}

	var debit *wallet.Result
	debitRef := wallet.RefPrefixCall + rsl.Target.ID
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		target, linked, err := s.lock(ctx, rsl)
		if err != nil {
			return err
		}
		if isDone(target, linked) {
			return errDuplicate
		}

		now := s.clock().UTC()
		res.Outcome = OutcomeLinked
		if !target.IsTerminal() {
			settled, err := s.calls.Settle(ctx, target.ID, calls.SettleParams{
				Status:            recordStatus(status),
				DurationSeconds:   sig.DurationSeconds,
				CreditsUsed:       est.Credits,
				CarrierCallID:     rsl.TargetCarrierID,
				DestinationNumber: backfillDestination(sig),
				Direction:         sig.Direction,
				EndedAt:           now,
			})
			if errors.Is(err, calls.ErrAlreadySettled) {
				return errDuplicate
			}
			if err != nil {
				return fmt.Errorf("settle %s: %w", target.ID, err)
			}
			res.Outcome = OutcomeSettled
			res.Credits = settled.CreditsUsed
			if status == statusBillable {
				res.PricingSource = est.Source
			}

			if settled.CreditsUsed.IsPositive() {
				r, err := s.ledger.Debit(ctx, settled.UserID, wallet.DebitRequest{
					Amount:         settled.CreditsUsed,
					ExternalRef:    debitRef,
					IdempotencyKey: debitRef,
				})
				if err != nil {
					return err
				}
				debit = &r
			}
		}

		if linked != nil && !linked.IsTerminal() {
			_, err := s.calls.Settle(ctx, linked.ID, calls.SettleParams{
				Status:          recordStatus(status),
				DurationSeconds: sig.DurationSeconds,
				CreditsUsed:     decimal.Zero,
				CarrierCallID:   rsl.LinkedCarrierID,
				RelatedCallID:   target.ID,
				Direction:       sig.Direction,
				EndedAt:         now,
			})
			if err != nil && !errors.Is(err, calls.ErrAlreadySettled) {
				return fmt.Errorf("link %s to %s: %w", linked.ID, target.ID, err)
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		log.Info("duplicate settlement ignored", slog.String("call_record_id", rsl.Target.ID))
		return Result{Outcome: OutcomeDuplicate, CallRecordID: res.CallRecordID, LinkedCallID: res.LinkedCallID, Strategy: res.Strategy, Redirected: res.Redirected}, nil
	}
	if err != nil {
		log.Error("settlement failed", slog.String("call_record_id", rsl.Target.ID), slog.Any("err", err))
		return Result{}, err
	}

	if res.PricingSource != "" {
		pricingSourceTotal.WithLabelValues(string(res.PricingSource)).Inc()
	}
	if res.Redirected {
		legRedirectsTotal.WithLabelValues(string(res.Strategy)).Inc()
	}
	log.Info("call settled",
		slog.String("call_record_id", res.CallRecordID),
		slog.String("linked_call_id", res.LinkedCallID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("strategy", string(res.Strategy)),
		slog.Bool("redirected", res.Redirected),
		slog.String("credits", res.Credits.String()),
	)

	if debit != nil && !debit.Replayed {
		res.NewBalance = debit.NewBalance
		creditsDebitedTotal.Add(debit.Entry.Amount.Neg().InexactFloat64())
		if s.topup != nil {
			s.topup.AfterDebit(ctx, debit.Entry.UserID, debit.NewBalance, debitRef)
		}
	}
	return res, nil
}

// lock re-reads the resolved records under row locks, in id order.
func (s *Service) lock(ctx context.Context, rsl Resolution) (calls.CallRecord, *calls.CallRecord, error) {
	ids := []string{rsl.Target.ID}
	if rsl.Linked != nil {
		ids = append(ids, rsl.Linked.ID)
		if ids[1] < ids[0] {
			ids[0], ids[1] = ids[1], ids[0]
		}
	}

	locked := make(map[string]calls.CallRecord, len(ids))
	for _, id := range ids {
		rec, err := s.calls.GetForUpdate(ctx, id)
		if err != nil {
			return calls.CallRecord{}, nil, fmt.Errorf("lock %s: %w", id, err)
		}
		locked[id] = rec
	}

	target := locked[rsl.Target.ID]
	if rsl.Linked == nil {
		return target, nil, nil
	}
	linked := locked[rsl.Linked.ID]
	return target, &linked, nil
}

// isDone is the idempotency guard.
func isDone(target calls.CallRecord, linked *calls.CallRecord) bool {
	return target.IsTerminal() && (linked == nil || linked.IsTerminal())
}

func recordStatus(s settleStatus) calls.CallStatus {
	switch s {
	case statusBusy:
		return calls.CallStatusBusy
	case statusFailed:
		return calls.CallStatusFailed
	default:
		return calls.CallStatusCompleted
	}
}

func backfillDestination(sig Signal) string {
	if sig.To == "" {
		return ""
	}
	if n := calls.NormalizeDestination(sig.To); calls.IsDialable(n) {
		return n
	}
	return ""
}
