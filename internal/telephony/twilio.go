package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callFetcher is the part of the Twilio REST client we use.
type callFetcher interface {
	FetchCall(sid string, params *twilioapi.FetchCallParams) (*twilioapi.ApiV2010Call, error)
}

// TwilioProvider reads call prices from the Twilio REST API.
type TwilioProvider struct {
	calls callFetcher
}

func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{calls: client.Api}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type fetchResult struct {
	call *twilioapi.ApiV2010Call
	err  error
}

// CallPrice fetches the call resource. The SDK call takes no context, so the
// deadline in ctx is enforced here; a late response is discarded.
func (p *TwilioProvider) CallPrice(ctx context.Context, sid string) (decimal.Decimal, bool, error) {
	if p.calls == nil {
		return decimal.Zero, false, errors.New("telephony: twilio client not configured")
	}
	if sid == "" {
		return decimal.Zero, false, nil
	}

	done := make(chan fetchResult, 1)
	go func() {
		call, err := p.calls.FetchCall(sid, &twilioapi.FetchCallParams{})
		done <- fetchResult{call: call, err: err}
	}()

	var res fetchResult
	select {
	case <-ctx.Done():
		return decimal.Zero, false, fmt.Errorf("twilio fetch call %s: %w", sid, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return decimal.Zero, false, fmt.Errorf("twilio fetch call %s: %w", sid, res.err)
	}
	if res.call == nil || res.call.Price == nil || strings.TrimSpace(*res.call.Price) == "" {
		return decimal.Zero, false, nil
	}

	price, err := decimal.NewFromString(strings.TrimSpace(*res.call.Price))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("twilio call %s: bad price %q: %w", sid, *res.call.Price, err)
	}
	return price, true, nil
}
