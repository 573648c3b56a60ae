package notification

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestService_CreateAndList(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())
	ctx := context.Background()

	txID := int64(7)
	for _, typ := range []Type{TypeTransactionCreated, TypeTransactionLocked, TypeTransactionReleased} {
		_, err := svc.Create(ctx, &Notification{
			UserID:        1,
			Type:          typ,
			Title:         "escrow update",
			Message:       "transaction moved",
			TransactionID: &txID,
		})
		require.NoError(t, err)
	}

	items, err := svc.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Oldest first.
	assert.Equal(t, TypeTransactionCreated, items[0].Type)
	assert.Equal(t, TypeTransactionLocked, items[1].Type)
	assert.Equal(t, TypeTransactionReleased, items[2].Type)
	assert.Equal(t, txID, *items[0].TransactionID)
	assert.False(t, items[0].Read)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestService_RejectsUnknownType(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())

	_, err := svc.Create(context.Background(), &Notification{UserID: 1, Type: "transaction_exploded"})
	assert.Error(t, err)
}

func TestService_ReadFlags(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())
	ctx := context.Background()

	a, err := svc.Create(ctx, &Notification{UserID: 1, Type: TypeTransactionCreated})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &Notification{UserID: 1, Type: TypeTransactionLocked})
	require.NoError(t, err)
	other, err := svc.Create(ctx, &Notification{UserID: 2, Type: TypeTransactionCreated})
	require.NoError(t, err)

	count, err := svc.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, svc.MarkRead(ctx, a.ID, 1))
	count, _ = svc.CountUnread(ctx, 1)
	assert.Equal(t, int64(1), count)

	// User 1 cannot mark user 2's notification.
	err = svc.MarkRead(ctx, other.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	flipped, err := svc.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped)

	count, _ = svc.CountUnread(ctx, 1)
	assert.Equal(t, int64(0), count)

	// User 2's inbox untouched throughout.
	count, _ = svc.CountUnread(ctx, 2)
	assert.Equal(t, int64(1), count)
}

func TestService_MarkRead_UnknownID(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())
	err := svc.MarkRead(context.Background(), 424242, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

type capturePublisher struct {
	mu    sync.Mutex
	calls []int64
}

func (p *capturePublisher) PublishNotification(userID int64, n *Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, userID)
}

func TestService_PublishesToLiveStream(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(NewMemoryStore(), testLogger()).WithPublisher(pub)

	_, err := svc.Create(context.Background(), &Notification{UserID: 9, Type: TypeTransactionDisputed})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, int64(9), pub.calls[0])
}

type failingStore struct {
	Store
}

func (f *failingStore) Create(ctx context.Context, n *Notification) error {
	return errors.New("disk full")
}

func TestService_NotifySwallowsPersistFailure(t *testing.T) {
	svc := NewService(&failingStore{NewMemoryStore()}, testLogger())

	// Must not panic or propagate: fan-out is best-effort.
	svc.Notify(context.Background(), &Notification{UserID: 1, Type: TypeTransactionCreated})
}
