package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type simulatedState string

const (
	simHeld      simulatedState = "held"
	simCompleted simulatedState = "completed"
	simCancelled simulatedState = "cancelled"
)

// SimulatedGateway is an in-memory gateway for demo/development mode
// and tests. No money moves; payment holds live in a map.
type SimulatedGateway struct {
	mu       sync.Mutex
	payments map[string]simulatedState

	// FailCreate, FailComplete, FailCancel inject errors for tests.
	FailCreate   error
	FailComplete error
	FailCancel   error
}

// NewSimulatedGateway creates an in-memory payment gateway.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{payments: make(map[string]simulatedState)}
}

func (g *SimulatedGateway) CreatePayment(ctx context.Context, req CreateRequest) (*Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCreate != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, g.FailCreate)
	}

	id := "sim_" + uuid.NewString()
	g.payments[id] = simHeld
	return &Payment{
		Identifier: id,
		Amount:     req.Amount,
		Currency:   "usd",
		Provider:   "simulated",
	}, nil
}

func (g *SimulatedGateway) CompletePayment(ctx context.Context, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailComplete != nil {
		return fmt.Errorf("%w: %v", ErrGateway, g.FailComplete)
	}

	state, ok := g.payments[identifier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPayment, identifier)
	}
	// Idempotent: completing an already-completed payment is a no-op.
	if state == simCancelled {
		return fmt.Errorf("%w: complete cancelled payment %s", ErrGateway, identifier)
	}
	g.payments[identifier] = simCompleted
	return nil
}

func (g *SimulatedGateway) CancelPayment(ctx context.Context, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCancel != nil {
		return fmt.Errorf("%w: %v", ErrGateway, g.FailCancel)
	}

	state, ok := g.payments[identifier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPayment, identifier)
	}
	// Idempotent: cancelling an already-cancelled payment is a no-op.
	if state == simCompleted {
		return fmt.Errorf("%w: cancel completed payment %s", ErrGateway, identifier)
	}
	g.payments[identifier] = simCancelled
	return nil
}

// State reports the current state of a simulated payment (for tests).
func (g *SimulatedGateway) State(identifier string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.payments[identifier]
	return string(s), ok
}

var _ Gateway = (*SimulatedGateway)(nil)
