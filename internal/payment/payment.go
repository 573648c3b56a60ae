// Package payment wraps the third-party payment provider.
//
// The provider holds the buyer's funds while a transaction is locked:
// creating a payment authorizes the charge, completing it captures the
// funds for the seller, cancelling it returns them to the buyer.
package payment

import (
	"context"
	"errors"

	"github.com/oselz/escrowd/internal/money"
)

// ErrGateway marks upstream payment-provider failures. Callers match it
// with errors.Is to map provider trouble to their own error taxonomy.
var ErrGateway = errors.New("payment: gateway failure")

// ErrUnknownPayment is returned for identifiers the provider does not know.
var ErrUnknownPayment = errors.New("payment: unknown payment identifier")

// Payment describes a provider-side payment hold.
type Payment struct {
	Identifier string       `json:"identifier"`
	Amount     money.Amount `json:"amount"`
	Currency   string       `json:"currency"`
	Provider   string       `json:"provider"`
}

// CreateRequest carries the parameters for a new payment hold.
type CreateRequest struct {
	Amount   money.Amount
	Memo     string
	Metadata map[string]string
}

// Gateway is the payment provider contract.
//
// CreatePayment is NOT idempotent: a blind retry can charge the buyer
// twice, so failures surface to the caller for explicit retry.
// CompletePayment and CancelPayment are idempotent by identifier and
// safe to retry on transient failure.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error)
	CompletePayment(ctx context.Context, identifier string) error
	CancelPayment(ctx context.Context, identifier string) error
}
