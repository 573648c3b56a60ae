// Package notification records and serves per-user notifications.
//
// Notifications are the fan-out target for every escrow transition.
// Delivery is best-effort and at-least-once: a notification that fails
// to persist is logged and dropped, never allowed to roll back the
// transaction transition that produced it.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oselz/escrowd/internal/metrics"
)

var ErrNotFound = errors.New("notification: not found")

// Type is the closed set of notification kinds, mirroring transaction events.
type Type string

const (
	TypeTransactionCreated  Type = "transaction_created"
	TypeTransactionLocked   Type = "transaction_locked"
	TypeTransactionReleased Type = "transaction_released"
	TypeTransactionDisputed Type = "transaction_disputed"
	TypeTransactionRefunded Type = "transaction_refunded"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeTransactionCreated, TypeTransactionLocked, TypeTransactionReleased,
		TypeTransactionDisputed, TypeTransactionRefunded:
		return true
	}
	return false
}

// Notification is a single per-user message.
type Notification struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Type          Type      `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	TransactionID *int64    `json:"transactionId,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	// ListByUser returns a user's notifications oldest-to-newest.
	ListByUser(ctx context.Context, userID int64) ([]*Notification, error)
	// MarkRead flips the read flag; ErrNotFound when the notification
	// does not exist or belongs to another user.
	MarkRead(ctx context.Context, id, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
}

// Publisher receives notifications as they are created, for live push.
type Publisher interface {
	PublishNotification(userID int64, n *Notification)
}

// Service implements the notification dispatcher.
type Service struct {
	store     Store
	logger    *slog.Logger
	publisher Publisher
}

// NewService creates a notification service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// WithPublisher adds a live push target (e.g. the WebSocket hub).
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Create persists a notification and pushes it to the live publisher.
func (s *Service) Create(ctx context.Context, n *Notification) (*Notification, error) {
	if !n.Type.Valid() {
		return nil, errors.New("notification: unknown type " + string(n.Type))
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if err := s.store.Create(ctx, n); err != nil {
		metrics.NotificationFailuresTotal.Inc()
		return nil, err
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Type)).Inc()

	if s.publisher != nil {
		s.publisher.PublishNotification(n.UserID, n)
	}
	return n, nil
}

// Notify is the fire-and-forget variant used by transition fan-out:
// failures are logged, never returned.
func (s *Service) Notify(ctx context.Context, n *Notification) {
	if _, err := s.Create(ctx, n); err != nil {
		s.logger.Warn("failed to persist notification",
			"user_id", n.UserID,
			"type", string(n.Type),
			"error", err,
		)
	}
}

// ListByUser returns all of a user's notifications, oldest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*Notification, error) {
	return s.store.ListByUser(ctx, userID)
}

// MarkRead marks one notification read if it belongs to userID.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	return s.store.MarkRead(ctx, id, userID)
}

// MarkAllRead marks all of a user's unread notifications read and
// returns how many were flipped.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// CountUnread returns the number of unread notifications for a user.
func (s *Service) CountUnread(ctx context.Context, userID int64) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}
