package notification

import (
	"context"
	"fmt"

	"github.com/oselz/escrowd/internal/escrow"
)

// Sink turns committed escrow transitions into notifications for both
// parties. It runs after the state change is persisted, so a failed
// insert can only ever cost a notification, never a transition.
type Sink struct {
	svc *Service
}

// NewSink creates a notification event sink.
func NewSink(svc *Service) *Sink {
	return &Sink{svc: svc}
}

// TransactionEvent implements escrow.EventSink.
func (s *Sink) TransactionEvent(ctx context.Context, ev escrow.Event) {
	tx := ev.Transaction
	amount := tx.Amount.String()

	var (
		typ           Type
		title         string
		buyerMessage  string
		sellerMessage string
	)

	switch ev.Kind {
	case escrow.EventCreated:
		typ = TypeTransactionCreated
		title = "Escrow transaction created"
		buyerMessage = fmt.Sprintf("You opened an escrow transaction for %s.", amount)
		sellerMessage = fmt.Sprintf("A buyer opened an escrow transaction for %s.", amount)
	case escrow.EventLocked:
		typ = TypeTransactionLocked
		title = "Funds locked in escrow"
		buyerMessage = fmt.Sprintf("Your payment of %s is held in escrow.", amount)
		sellerMessage = fmt.Sprintf("The buyer's payment of %s is held in escrow.", amount)
	case escrow.EventReleased:
		typ = TypeTransactionReleased
		title = "Escrow funds released"
		buyerMessage = fmt.Sprintf("Your payment of %s was released to the seller.", amount)
		sellerMessage = fmt.Sprintf("You received %s from escrow.", amount)
	case escrow.EventDisputed:
		typ = TypeTransactionDisputed
		title = "Transaction disputed"
		buyerMessage = fmt.Sprintf("The %s transaction is now under dispute.", amount)
		sellerMessage = buyerMessage
	case escrow.EventRefunded:
		typ = TypeTransactionRefunded
		title = "Escrow payment refunded"
		buyerMessage = fmt.Sprintf("Your payment of %s was refunded.", amount)
		sellerMessage = fmt.Sprintf("The buyer's payment of %s was refunded.", amount)
	default:
		return
	}

	txID := tx.ID
	s.svc.Notify(ctx, &Notification{
		UserID:        tx.BuyerID,
		Type:          typ,
		Title:         title,
		Message:       buyerMessage,
		TransactionID: &txID,
	})
	s.svc.Notify(ctx, &Notification{
		UserID:        tx.SellerID,
		Type:          typ,
		Title:         title,
		Message:       sellerMessage,
		TransactionID: &txID,
	})
}

// Compile-time assertion that Sink implements escrow.EventSink.
var _ escrow.EventSink = (*Sink)(nil)
