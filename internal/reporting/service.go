package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Reads are always scoped to
// one user and come from the call records and the append-only ledger.
type Repository interface {
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error)
	ListEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.LedgerEntry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validate(req SummaryRequest) error {
	if req.UserID == "" {
		return ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ErrInvalidRequest
	}
	return nil
}

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	c, err := s.CallsSummary(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	sp, err := s.SpendSummary(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	return Summary{UserID: req.UserID, Range: req.Range, Calls: c, Spend: sp}, nil
}

func (s *Service) CallsSummary(ctx context.Context, req SummaryRequest) (CallsSummary, error) {
	if err := validate(req); err != nil {
		return CallsSummary{}, err
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{CreditsUsed: decimal.Zero}
	billedSeconds := 0
	for _, c := range rows {
		if c.IsLinked() {
			out.LinkedLegs++
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
			if c.IsBilled() {
				out.BilledCalls++
				billedSeconds += c.DurationSeconds
				out.CreditsUsed = out.CreditsUsed.Add(c.CreditsUsed)
			}
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusInitiated:
			out.PendingCalls++
		}
	}
	if out.BilledCalls > 0 {
		out.AverageDurationSeconds = billedSeconds / out.BilledCalls
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SummaryRequest) (SpendSummary, error) {
	if err := validate(req); err != nil {
		return SpendSummary{}, err
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.ListEntries(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{
		TotalDebits:        decimal.Zero,
		TotalCredits:       decimal.Zero,
		CallDebits:         decimal.Zero,
		AutoTopupCredits:   decimal.Zero,
		ManualTopupCredits: decimal.Zero,
		AdminCredits:       decimal.Zero,
	}
	for _, e := range entries {
		if e.Amount.IsNegative() {
			out.TotalDebits = out.TotalDebits.Add(e.Amount.Neg())
			if strings.HasPrefix(e.ExternalRef, wallet.RefPrefixCall) {
				out.CallDebits = out.CallDebits.Add(e.Amount.Neg())
			}
			continue
		}

		out.TotalCredits = out.TotalCredits.Add(e.Amount)
		switch {
		case strings.HasPrefix(e.ExternalRef, wallet.RefPrefixAutoTopup):
			out.AutoTopupCredits = out.AutoTopupCredits.Add(e.Amount)
		case strings.HasPrefix(e.ExternalRef, wallet.RefPrefixTopup):
			out.ManualTopupCredits = out.ManualTopupCredits.Add(e.Amount)
		case strings.HasPrefix(e.ExternalRef, wallet.RefPrefixAdmin):
			out.AdminCredits = out.AdminCredits.Add(e.Amount)
		}
	}
	out.NetDelta = out.TotalCredits.Sub(out.TotalDebits)
	return out, nil
}
