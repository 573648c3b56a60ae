// Package escrow implements the marketplace escrow transaction engine.
//
// Flow:
//  1. Buyer opens a transaction → payment hold created → funds locked
//  2. Seller releases, or the auto-release sweep fires after the deadline
//  3. Either party may dispute while locked
//  4. A resolver settles a dispute by refund or release
//
// Every state transition is a single conditional write keyed on the
// expected prior status, so the sweep and request-driven callers can
// race safely without a lost update.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oselz/escrowd/internal/metrics"
	"github.com/oselz/escrowd/internal/money"
	"github.com/oselz/escrowd/internal/payment"
	"github.com/oselz/escrowd/internal/traces"
	"github.com/oselz/escrowd/internal/users"
)

var (
	ErrNotFound      = errors.New("escrow: transaction not found")
	ErrInvalidParty  = errors.New("escrow: unknown buyer or seller")
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	ErrInvalidState  = errors.New("escrow: invalid status for this operation")
	ErrUnauthorized  = errors.New("escrow: not authorized for this operation")

	// ErrStateConflict is returned by a conditional update when the row
	// exists but no longer matches the expected status. Callers that have
	// not yet touched the payment gateway translate it to ErrInvalidState.
	ErrStateConflict = errors.New("escrow: transaction was modified concurrently")
)

// Status is the state of an escrow transaction.
type Status string

const (
	StatusPending   Status = "pending"   // Created, no payment hold yet
	StatusLocked    Status = "locked"    // Funds held by the payment provider
	StatusDisputed  Status = "disputed"  // Contested, awaiting resolution
	StatusReleased  Status = "released"  // Funds captured for the seller
	StatusRefunded  Status = "refunded"  // Hold cancelled, funds returned to buyer
	StatusCancelled Status = "cancelled" // Abandoned before locking
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// DisputeStatus tracks the lifecycle of a dispute. Empty until one is opened.
type DisputeStatus string

const (
	DisputeNone      DisputeStatus = ""
	DisputePending   DisputeStatus = "pending"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeCancelled DisputeStatus = "cancelled"
)

// Resolution is a resolver's verdict on a disputed transaction.
type Resolution string

const (
	ResolutionRefund  Resolution = "refund"
	ResolutionRelease Resolution = "release"
)

// DefaultAutoRelease is the time a locked transaction waits before the
// sweep releases it to the seller.
const DefaultAutoRelease = 24 * time.Hour

// Transaction is the escrow aggregate root.
type Transaction struct {
	ID                int64        `json:"id"`
	SellerID          int64        `json:"sellerId"`
	BuyerID           int64        `json:"buyerId"`
	Amount            money.Amount `json:"amount"`
	Status            Status       `json:"status"`
	PaymentIdentifier string       `json:"paymentIdentifier,omitempty"`
	Memo              string       `json:"memo,omitempty"`
	ReleaseConditions string       `json:"releaseConditions,omitempty"`
	AutoReleaseAt     *time.Time   `json:"autoReleaseAt,omitempty"`

	DisputeReason          string        `json:"disputeReason,omitempty"`
	DisputeStatus          DisputeStatus `json:"disputeStatus,omitempty"`
	DisputeResolutionNotes string        `json:"disputeResolutionNotes,omitempty"`
	DisputeResolvedBy      *int64        `json:"disputeResolvedBy,omitempty"`
	DisputeResolvedAt      *time.Time    `json:"disputeResolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.AutoReleaseAt != nil {
		v := *t.AutoReleaseAt
		c.AutoReleaseAt = &v
	}
	if t.DisputeResolvedBy != nil {
		v := *t.DisputeResolvedBy
		c.DisputeResolvedBy = &v
	}
	if t.DisputeResolvedAt != nil {
		v := *t.DisputeResolvedAt
		c.DisputeResolvedAt = &v
	}
	return &c
}

// Store persists escrow transactions.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id int64) (*Transaction, error)

	// UpdateConditional persists tx only if the stored row still has
	// status == expected and, when guardDispute is set, no pending
	// dispute. Returns ErrNotFound for an unknown id and
	// ErrStateConflict when the condition no longer holds. This single
	// write is what makes concurrent manual and sweep transitions
	// mutually exclusive per transaction.
	UpdateConditional(ctx context.Context, tx *Transaction, expected Status, guardDispute bool) error

	ListDisputed(ctx context.Context) ([]*Transaction, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Transaction, error)

	// ListDueForRelease returns locked transactions whose auto-release
	// deadline has passed and that have no pending dispute, oldest first.
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
}

// CreateRequest contains the parameters for creating a transaction.
type CreateRequest struct {
	SellerID          int64
	BuyerID           int64
	Amount            money.Amount
	Memo              string
	ReleaseConditions string
}

// HistoryEntry is a buyer's transaction joined with the seller's display info.
type HistoryEntry struct {
	Transaction *Transaction `json:"transaction"`
	SellerName  string       `json:"sellerName"`
}

// Service implements the escrow state machine.
type Service struct {
	store   Store
	users   users.Directory
	gateway payment.Gateway
	sinks   []EventSink
	logger  *slog.Logger

	autoReleaseAfter time.Duration
	now              func() time.Time
}

// NewService creates an escrow service.
func NewService(store Store, directory users.Directory, gateway payment.Gateway, logger *slog.Logger) *Service {
	return &Service{
		store:            store,
		users:            directory,
		gateway:          gateway,
		logger:           logger,
		autoReleaseAfter: DefaultAutoRelease,
		now:              time.Now,
	}
}

// WithEventSink registers a sink for transition events.
func (s *Service) WithEventSink(sink EventSink) *Service {
	s.sinks = append(s.sinks, sink)
	return s
}

// WithAutoReleaseAfter overrides the auto-release deadline offset.
func (s *Service) WithAutoReleaseAfter(d time.Duration) *Service {
	if d > 0 {
		s.autoReleaseAfter = d
	}
	return s
}

// WithClock overrides the time source, for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the parties and amount and inserts a pending record.
// The payment gateway is not contacted here.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	if !req.Amount.Positive() {
		return nil, ErrInvalidAmount
	}
	if req.BuyerID == req.SellerID {
		return nil, fmt.Errorf("%w: buyer and seller are the same user", ErrInvalidParty)
	}
	for _, id := range []int64{req.SellerID, req.BuyerID} {
		ok, err := s.users.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("verify party %d: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: user %d", ErrInvalidParty, id)
		}
	}

	now := s.now()
	tx := &Transaction{
		SellerID:          req.SellerID,
		BuyerID:           req.BuyerID,
		Amount:            req.Amount,
		Status:            StatusPending,
		Memo:              req.Memo,
		ReleaseConditions: req.ReleaseConditions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.dispatch(ctx, Event{Kind: EventCreated, Transaction: tx.Clone(), Actor: req.BuyerID, At: now})
	return tx, nil
}

// Lock records a payment hold against a pending transaction. A retried
// lock on an already-locked transaction fails with ErrInvalidState
// rather than silently re-locking.
func (s *Service) Lock(ctx context.Context, id int64, paymentIdentifier string) (*Transaction, error) {
	if paymentIdentifier == "" {
		return nil, fmt.Errorf("%w: empty payment identifier", ErrInvalidState)
	}

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusPending {
		return nil, ErrInvalidState
	}

	now := s.now()
	deadline := now.Add(s.autoReleaseAfter)
	tx.Status = StatusLocked
	tx.PaymentIdentifier = paymentIdentifier
	tx.AutoReleaseAt = &deadline
	tx.UpdatedAt = now

	if err := s.store.UpdateConditional(ctx, tx, StatusPending, false); err != nil {
		if errors.Is(err, ErrStateConflict) {
			metrics.TransitionConflictsTotal.Inc()
			return nil, ErrInvalidState
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(StatusLocked)).Inc()
	s.dispatch(ctx, Event{Kind: EventLocked, Transaction: tx.Clone(), Actor: tx.BuyerID, At: now})
	return tx, nil
}

// Release captures the held funds for the seller. Only the seller may
// trigger a manual release.
func (s *Service) Release(ctx context.Context, id, requesterID int64) (*Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusLocked {
		return nil, ErrInvalidState
	}
	if requesterID != tx.SellerID {
		return nil, ErrUnauthorized
	}
	return s.release(ctx, tx, requesterID)
}

// release completes the payment and commits locked → released. The
// gateway call precedes the conditional write; a conflict after the
// capture means funds moved but the record raced a dispute, which
// needs manual resolution.
func (s *Service) release(ctx context.Context, tx *Transaction, actor int64) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release",
		traces.TransactionID(tx.ID), traces.PaymentID(tx.PaymentIdentifier))
	defer span.End()

	if err := s.gateway.CompletePayment(ctx, tx.PaymentIdentifier); err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("complete payment %s: %w", tx.PaymentIdentifier, err)
	}

	now := s.now()
	tx.Status = StatusReleased
	tx.UpdatedAt = now

	if err := s.store.UpdateConditional(ctx, tx, StatusLocked, true); err != nil {
		if errors.Is(err, ErrStateConflict) {
			metrics.TransitionConflictsTotal.Inc()
			// CRITICAL: payment was captured but the transaction raced a
			// concurrent transition. CompletePayment has no inverse here,
			// so log for manual resolution instead of guessing.
			s.logger.Error("CRITICAL: payment captured but release transition lost a race",
				"transactionId", tx.ID, "payment", tx.PaymentIdentifier)
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.TransactionDuration.Observe(now.Sub(tx.CreatedAt).Seconds())
	s.dispatch(ctx, Event{Kind: EventReleased, Transaction: tx.Clone(), Actor: actor, At: now})
	return tx, nil
}

// Dispute contests a locked transaction. Either party may open one.
func (s *Service) Dispute(ctx context.Context, id, userID int64, reason string) (*Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != tx.BuyerID && userID != tx.SellerID {
		return nil, ErrUnauthorized
	}
	if tx.Status != StatusLocked {
		return nil, ErrInvalidState
	}

	now := s.now()
	tx.Status = StatusDisputed
	tx.DisputeStatus = DisputePending
	tx.DisputeReason = reason
	tx.UpdatedAt = now

	if err := s.store.UpdateConditional(ctx, tx, StatusLocked, false); err != nil {
		if errors.Is(err, ErrStateConflict) {
			metrics.TransitionConflictsTotal.Inc()
			return nil, ErrInvalidState
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	s.dispatch(ctx, Event{Kind: EventDisputed, Transaction: tx.Clone(), Actor: userID, At: now})
	return tx, nil
}

// Resolve settles a disputed transaction by refund or release. The
// gateway call must succeed before the transaction is marked resolved.
func (s *Service) Resolve(ctx context.Context, id, resolverID int64, resolution Resolution, notes string) (*Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusDisputed {
		return nil, ErrInvalidState
	}

	ctx, span := traces.StartSpan(ctx, "escrow.Resolve",
		traces.TransactionID(tx.ID), traces.PaymentID(tx.PaymentIdentifier),
		traces.Status(string(resolution)))
	defer span.End()

	var target Status
	var kind EventKind
	switch resolution {
	case ResolutionRefund:
		if err := s.gateway.CancelPayment(ctx, tx.PaymentIdentifier); err != nil {
			traces.RecordError(span, err)
			return nil, fmt.Errorf("cancel payment %s: %w", tx.PaymentIdentifier, err)
		}
		target, kind = StatusRefunded, EventRefunded
	case ResolutionRelease:
		if err := s.gateway.CompletePayment(ctx, tx.PaymentIdentifier); err != nil {
			traces.RecordError(span, err)
			return nil, fmt.Errorf("complete payment %s: %w", tx.PaymentIdentifier, err)
		}
		target, kind = StatusReleased, EventReleased
	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidState, resolution)
	}

	now := s.now()
	tx.Status = target
	tx.DisputeStatus = DisputeResolved
	tx.DisputeResolutionNotes = notes
	tx.DisputeResolvedBy = &resolverID
	tx.DisputeResolvedAt = &now
	tx.UpdatedAt = now

	if err := s.store.UpdateConditional(ctx, tx, StatusDisputed, false); err != nil {
		if errors.Is(err, ErrStateConflict) {
			metrics.TransitionConflictsTotal.Inc()
			s.logger.Error("CRITICAL: payment settled but dispute resolution lost a race",
				"transactionId", tx.ID, "payment", tx.PaymentIdentifier, "resolution", string(resolution))
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(target)).Inc()
	metrics.TransactionDuration.Observe(now.Sub(tx.CreatedAt).Seconds())
	s.dispatch(ctx, Event{Kind: kind, Transaction: tx.Clone(), Actor: resolverID, At: now})
	return tx, nil
}

// Open creates a transaction and synchronously locks it against a fresh
// payment hold. CreatePayment is never retried here; its failure leaves
// the transaction pending for an explicit retry by the caller.
func (s *Service) Open(ctx context.Context, req CreateRequest) (*Transaction, *payment.Payment, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Open",
		traces.UserID(req.BuyerID), traces.Amount(req.Amount.String()))
	defer span.End()

	tx, err := s.Create(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	hold, err := s.gateway.CreatePayment(ctx, payment.CreateRequest{
		Amount: tx.Amount,
		Memo:   tx.Memo,
		Metadata: map[string]string{
			"transaction_id": fmt.Sprintf("%d", tx.ID),
		},
	})
	if err != nil {
		return tx, nil, fmt.Errorf("create payment: %w", err)
	}

	locked, err := s.Lock(ctx, tx.ID, hold.Identifier)
	if err != nil {
		// Funds are held but the lock did not commit. Cancelling the
		// hold is idempotent and safe.
		if cancelErr := s.gateway.CancelPayment(ctx, hold.Identifier); cancelErr != nil {
			s.logger.Error("failed to cancel orphaned payment hold",
				"transactionId", tx.ID, "payment", hold.Identifier, "error", cancelErr)
		}
		return tx, nil, err
	}
	return locked, hold, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id int64) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListDisputed returns all currently disputed transactions.
func (s *Service) ListDisputed(ctx context.Context) ([]*Transaction, error) {
	return s.store.ListDisputed(ctx)
}

// History returns a buyer's transactions joined with seller display names.
func (s *Service) History(ctx context.Context, buyerID int64, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	txs, err := s.store.ListByBuyer(ctx, buyerID, limit)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	entries := make([]*HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		name, ok := names[tx.SellerID]
		if !ok {
			u, err := s.users.Get(ctx, tx.SellerID)
			if err == nil {
				name = u.DisplayName
			}
			names[tx.SellerID] = name
		}
		entries = append(entries, &HistoryEntry{Transaction: tx, SellerName: name})
	}
	return entries, nil
}

// sweepBatchSize caps how many transactions one sweep pass considers.
const sweepBatchSize = 100

// ReleaseDue releases every locked transaction past its auto-release
// deadline that has no pending dispute. Per-transaction failures are
// logged and do not abort the rest of the pass. Returns the number of
// transactions released.
func (s *Service) ReleaseDue(ctx context.Context) int {
	due, err := s.store.ListDueForRelease(ctx, s.now(), sweepBatchSize)
	if err != nil {
		s.logger.Warn("failed to list transactions due for release", "error", err)
		return 0
	}

	released := 0
	for _, candidate := range due {
		// Re-read before touching the gateway: a dispute or manual
		// release may have landed since selection.
		tx, err := s.store.Get(ctx, candidate.ID)
		if err != nil {
			s.logger.Warn("auto-release: transaction vanished", "transactionId", candidate.ID, "error", err)
			continue
		}
		if tx.Status != StatusLocked || tx.DisputeStatus == DisputePending {
			continue
		}

		if _, err := s.release(ctx, tx, 0); err != nil {
			metrics.SweepFailuresTotal.Inc()
			s.logger.Warn("auto-release failed", "transactionId", tx.ID, "error", err)
			continue
		}
		released++
		metrics.SweepReleasedTotal.Inc()
		s.logger.Info("auto-released transaction",
			"transactionId", tx.ID, "seller", tx.SellerID, "buyer", tx.BuyerID, "amount", tx.Amount.String())
	}
	return released
}
