package topup

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// ChargeRequest is an off-session charge against a stored payment method.
type ChargeRequest struct {
	UserID           string
	CustomerID       string
	PaymentMethodRef string
	AmountCents      int64
	Currency         string
	PackageID        string

	// IdempotencyKey makes a retried charge for the same debit a no-op at the provider.
	IdempotencyKey string
}

type ChargeResult struct {
	ProviderRef string
	Status      string
}

type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// StripeCharger confirms a PaymentIntent off-session. It carries its own key
// and never touches the stripe package globals.
type StripeCharger struct {
	secretKey string
	intents   *paymentintent.Client
}

func NewStripeCharger(secretKey string) *StripeCharger {
	return newStripeCharger(secretKey, stripe.GetBackend(stripe.APIBackend))
}

func newStripeCharger(secretKey string, backend stripe.Backend) *StripeCharger {
	return &StripeCharger{
		secretKey: secretKey,
		intents:   &paymentintent.Client{B: backend, Key: secretKey},
	}
}

func (s *StripeCharger) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if s.secretKey == "" {
		return ChargeResult{}, fmt.Errorf("stripe secret key not configured")
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("package_id", req.PackageID)
	params.AddMetadata("kind", "auto_topup")

	pi, err := s.intents.New(params)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("create payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ChargeResult{ProviderRef: pi.ID, Status: string(pi.Status)}, fmt.Errorf("%w: payment intent %s is %s", ErrChargeDeclined, pi.ID, pi.Status)
	}
	return ChargeResult{ProviderRef: pi.ID, Status: string(pi.Status)}, nil
}
