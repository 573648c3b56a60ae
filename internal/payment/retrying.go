package payment

import (
	"context"
	"errors"
	"time"

	"github.com/oselz/escrowd/internal/metrics"
	"github.com/oselz/escrowd/internal/retry"
)

// RetryingGateway wraps a Gateway with retries on the idempotent
// operations and Prometheus instrumentation on all of them.
//
// CreatePayment is deliberately never retried here: the provider call
// is not idempotent and a lost response followed by a blind retry could
// open two holds against the buyer. Its failures pass straight through
// for the caller to handle.
type RetryingGateway struct {
	inner       Gateway
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetryingGateway wraps inner with retry and metrics.
func NewRetryingGateway(inner Gateway) *RetryingGateway {
	return &RetryingGateway{
		inner:       inner,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

func (g *RetryingGateway) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	p, err := g.inner.CreatePayment(ctx, req)
	observe("create", err)
	return p, err
}

func (g *RetryingGateway) CompletePayment(ctx context.Context, identifier string) error {
	err := retry.Do(ctx, g.maxAttempts, g.baseDelay, func() error {
		err := g.inner.CompletePayment(ctx, identifier)
		if errors.Is(err, ErrUnknownPayment) {
			return retry.Permanent(err)
		}
		return err
	})
	observe("complete", err)
	return err
}

func (g *RetryingGateway) CancelPayment(ctx context.Context, identifier string) error {
	err := retry.Do(ctx, g.maxAttempts, g.baseDelay, func() error {
		err := g.inner.CancelPayment(ctx, identifier)
		if errors.Is(err, ErrUnknownPayment) {
			return retry.Permanent(err)
		}
		return err
	})
	observe("cancel", err)
	return err
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayCallsTotal.WithLabelValues(op, result).Inc()
}

var _ Gateway = (*RetryingGateway)(nil)
