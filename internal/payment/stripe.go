package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

// StripeGateway implements Gateway on Stripe PaymentIntents.
//
// A manual-capture intent models the escrow hold: the intent authorizes
// the buyer's card, Capture moves the funds to the seller's side, and
// Cancel voids the authorization back to the buyer.
type StripeGateway struct {
	currency string
}

// NewStripeGateway configures the Stripe client and returns a gateway.
func NewStripeGateway(apiKey, currency string) *StripeGateway {
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{currency: currency}
}

func (g *StripeGateway) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			// An idempotency key bounds the damage if the HTTP response is
			// lost: Stripe will not create a second intent for the same key.
			IdempotencyKey: stripe.String(uuid.NewString()),
		},
		Amount:        stripe.Int64(req.Amount.Cents()),
		Currency:      stripe.String(g.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.Memo != "" {
		params.Description = stripe.String(req.Memo)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %v", ErrGateway, err)
	}

	return &Payment{
		Identifier: pi.ID,
		Amount:     req.Amount,
		Currency:   g.currency,
		Provider:   "stripe",
	}, nil
}

func (g *StripeGateway) CompletePayment(ctx context.Context, identifier string) error {
	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	}
	if _, err := paymentintent.Capture(identifier, params); err != nil {
		if isMissingIntent(err) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, identifier)
		}
		return fmt.Errorf("%w: capture %s: %v", ErrGateway, identifier, err)
	}
	return nil
}

func (g *StripeGateway) CancelPayment(ctx context.Context, identifier string) error {
	params := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	if _, err := paymentintent.Cancel(identifier, params); err != nil {
		if isMissingIntent(err) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, identifier)
		}
		return fmt.Errorf("%w: cancel %s: %v", ErrGateway, identifier, err)
	}
	return nil
}

func isMissingIntent(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

var _ Gateway = (*StripeGateway)(nil)
