package notification

import (
	"context"
	"database/sql"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, title, message, transaction_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.UserID, string(n.Type), n.Title, n.Message, nullInt64(n.TransactionID), n.Read, n.CreatedAt,
	)
	return row.Scan(&n.ID)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID int64) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, transaction_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		n := &Notification{}
		var typ string
		var txID sql.NullInt64
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &txID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		if txID.Valid {
			n.TransactionID = &txID.Int64
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, userID int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (p *PostgresStore) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND read = FALSE`, userID,
	).Scan(&count)
	return count, err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
