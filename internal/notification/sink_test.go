package notification

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/escrowd/internal/escrow"
	"github.com/oselz/escrowd/internal/money"
)

func TestSink_NotifiesBothParties(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink := NewSink(svc)
	ctx := context.Background()

	amount, err := money.ParsePositive("12.50")
	require.NoError(t, err)

	tx := &escrow.Transaction{
		ID:       42,
		BuyerID:  1,
		SellerID: 2,
		Amount:   amount,
		Status:   escrow.StatusReleased,
	}
	sink.TransactionEvent(ctx, escrow.Event{
		Kind:        escrow.EventReleased,
		Transaction: tx,
		Actor:       2,
		At:          time.Now(),
	})

	for _, userID := range []int64{1, 2} {
		got, err := svc.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, got, 1, "user %d", userID)
		assert.Equal(t, TypeTransactionReleased, got[0].Type)
		require.NotNil(t, got[0].TransactionID)
		assert.Equal(t, int64(42), *got[0].TransactionID)
		assert.Contains(t, got[0].Message, "12.500000")
	}

	// Buyer and seller get different wording for a release.
	buyer, _ := svc.ListByUser(ctx, 1)
	seller, _ := svc.ListByUser(ctx, 2)
	assert.NotEqual(t, buyer[0].Message, seller[0].Message)
}

func TestSink_CoversEveryTransition(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink := NewSink(svc)
	ctx := context.Background()

	amount, err := money.ParsePositive("1.00")
	require.NoError(t, err)
	tx := &escrow.Transaction{ID: 1, BuyerID: 1, SellerID: 2, Amount: amount}

	kinds := []escrow.EventKind{
		escrow.EventCreated,
		escrow.EventLocked,
		escrow.EventReleased,
		escrow.EventDisputed,
		escrow.EventRefunded,
	}
	for _, kind := range kinds {
		sink.TransactionEvent(ctx, escrow.Event{Kind: kind, Transaction: tx, At: time.Now()})
	}

	got, err := svc.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, len(kinds))

	seen := make(map[Type]bool)
	for _, n := range got {
		seen[n.Type] = true
	}
	assert.Len(t, seen, 5, "each transition maps to a distinct notification type")
}
