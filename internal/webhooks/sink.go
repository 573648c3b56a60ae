package webhooks

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/oselz/escrowd/internal/escrow"
)

// Sink adapts the dispatcher to the escrow engine's event stream. Each
// committed transition is delivered to both parties' subscriptions.
type Sink struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewSink creates a webhook event sink.
func NewSink(dispatcher *Dispatcher, logger *slog.Logger) *Sink {
	return &Sink{dispatcher: dispatcher, logger: logger}
}

var kindToEvent = map[escrow.EventKind]EventType{
	escrow.EventCreated:  EventTransactionCreated,
	escrow.EventLocked:   EventTransactionLocked,
	escrow.EventReleased: EventTransactionReleased,
	escrow.EventDisputed: EventTransactionDisputed,
	escrow.EventRefunded: EventTransactionRefunded,
}

// TransactionEvent implements escrow.EventSink.
func (s *Sink) TransactionEvent(ctx context.Context, ev escrow.Event) {
	eventType, ok := kindToEvent[ev.Kind]
	if !ok {
		return
	}

	tx := ev.Transaction
	data := map[string]interface{}{
		"transactionId": tx.ID,
		"buyerId":       tx.BuyerID,
		"sellerId":      tx.SellerID,
		"amount":        tx.Amount.String(),
		"status":        string(tx.Status),
	}
	if tx.DisputeReason != "" {
		data["disputeReason"] = tx.DisputeReason
	}

	event := &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: ev.At,
		Data:      data,
	}

	for _, userID := range []int64{tx.BuyerID, tx.SellerID} {
		if err := s.dispatcher.DispatchToUser(ctx, userID, event); err != nil {
			s.logger.Warn("webhook dispatch failed",
				"event", string(eventType), "userId", userID, "error", err)
		}
	}
}

// Compile-time assertion that Sink implements escrow.EventSink.
var _ escrow.EventSink = (*Sink)(nil)
