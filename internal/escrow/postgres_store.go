package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/oselz/escrowd/internal/money"
)

// PostgresStore persists escrow transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO escrow_transactions (
			seller_id, buyer_id, amount, status, payment_identifier,
			memo, release_conditions, auto_release_at,
			dispute_reason, dispute_status, dispute_resolution_notes,
			dispute_resolved_by, dispute_resolved_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3::NUMERIC(20,6), $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15
		) RETURNING id`,
		tx.SellerID, tx.BuyerID, tx.Amount.String(), string(tx.Status), nullString(tx.PaymentIdentifier),
		nullString(tx.Memo), nullString(tx.ReleaseConditions), nullTime(tx.AutoReleaseAt),
		nullString(tx.DisputeReason), nullString(string(tx.DisputeStatus)), nullString(tx.DisputeResolutionNotes),
		nullInt64(tx.DisputeResolvedBy), nullTime(tx.DisputeResolvedAt),
		tx.CreatedAt, tx.UpdatedAt,
	).Scan(&tx.ID)
}

const transactionColumns = `id, seller_id, buyer_id, amount, status, payment_identifier,
	       memo, release_conditions, auto_release_at,
	       dispute_reason, dispute_status, dispute_resolution_notes,
	       dispute_resolved_by, dispute_resolved_at,
	       created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM escrow_transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return tx, err
}

// UpdateConditional applies the transition as a single conditional
// UPDATE so concurrent callers cannot both win; the WHERE clause, not
// a prior read, enforces the expected status and dispute guard.
func (p *PostgresStore) UpdateConditional(ctx context.Context, tx *Transaction, expected Status, guardDispute bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET
			status = $1, payment_identifier = $2, auto_release_at = $3,
			dispute_reason = $4, dispute_status = $5, dispute_resolution_notes = $6,
			dispute_resolved_by = $7, dispute_resolved_at = $8,
			updated_at = $9
		WHERE id = $10
		  AND status = $11
		  AND (NOT $12 OR dispute_status IS DISTINCT FROM 'pending')`,
		string(tx.Status), nullString(tx.PaymentIdentifier), nullTime(tx.AutoReleaseAt),
		nullString(tx.DisputeReason), nullString(string(tx.DisputeStatus)), nullString(tx.DisputeResolutionNotes),
		nullInt64(tx.DisputeResolvedBy), nullTime(tx.DisputeResolvedAt),
		tx.UpdatedAt,
		tx.ID, string(expected), guardDispute,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM escrow_transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStateConflict
	}
	return nil
}

func (p *PostgresStore) ListDisputed(ctx context.Context) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow_transactions
		WHERE status = 'disputed'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow_transactions
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, buyerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow_transactions
		WHERE status = 'locked'
		  AND auto_release_at <= $1
		  AND dispute_status IS DISTINCT FROM 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	tx := &Transaction{}
	var (
		amount            string
		status            string
		paymentIdentifier sql.NullString
		memo              sql.NullString
		releaseConditions sql.NullString
		autoReleaseAt     sql.NullTime
		disputeReason     sql.NullString
		disputeStatus     sql.NullString
		disputeNotes      sql.NullString
		disputeResolvedBy sql.NullInt64
		disputeResolvedAt sql.NullTime
	)

	err := s.Scan(
		&tx.ID, &tx.SellerID, &tx.BuyerID, &amount, &status, &paymentIdentifier,
		&memo, &releaseConditions, &autoReleaseAt,
		&disputeReason, &disputeStatus, &disputeNotes,
		&disputeResolvedBy, &disputeResolvedAt,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = money.Parse(amount)
	if err != nil {
		return nil, err
	}
	tx.Status = Status(status)
	tx.PaymentIdentifier = paymentIdentifier.String
	tx.Memo = memo.String
	tx.ReleaseConditions = releaseConditions.String
	tx.DisputeReason = disputeReason.String
	tx.DisputeStatus = DisputeStatus(disputeStatus.String)
	tx.DisputeResolutionNotes = disputeNotes.String
	if autoReleaseAt.Valid {
		tx.AutoReleaseAt = &autoReleaseAt.Time
	}
	if disputeResolvedBy.Valid {
		tx.DisputeResolvedBy = &disputeResolvedBy.Int64
	}
	if disputeResolvedAt.Valid {
		tx.DisputeResolvedAt = &disputeResolvedAt.Time
	}

	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullInt64 converts a *int64 to sql.NullInt64.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
