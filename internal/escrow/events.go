package escrow

import (
	"context"
	"time"
)

// EventKind identifies a state transition.
type EventKind string

const (
	EventCreated  EventKind = "transaction_created"
	EventLocked   EventKind = "transaction_locked"
	EventReleased EventKind = "transaction_released"
	EventDisputed EventKind = "transaction_disputed"
	EventRefunded EventKind = "transaction_refunded"
)

// Event describes a committed state transition. Actor is the user who
// triggered it, or zero for the auto-release sweep.
type Event struct {
	Kind        EventKind
	Transaction *Transaction
	Actor       int64
	At          time.Time
}

// EventSink receives transition events after the state change has been
// persisted. Sinks are best-effort: they cannot fail or roll back the
// transition, so implementations handle their own errors.
type EventSink interface {
	TransactionEvent(ctx context.Context, ev Event)
}

// dispatch fans an event out to every registered sink, isolating sink
// panics from the transition path.
func (s *Service) dispatch(ctx context.Context, ev Event) {
	for _, sink := range s.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event sink panicked",
						"event", string(ev.Kind), "transactionId", ev.Transaction.ID, "panic", r)
				}
			}()
			sink.TransactionEvent(ctx, ev)
		}()
	}
}
