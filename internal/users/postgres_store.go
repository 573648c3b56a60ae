package users

import (
	"context"
	"database/sql"
)

// PostgresStore reads users from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name)
		VALUES ($1)
		RETURNING id, created_at`,
		u.DisplayName,
	)
	return row.Scan(&u.ID, &u.CreatedAt)
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id,
	).Scan(&exists)
	return exists, err
}

var _ Store = (*PostgresStore)(nil)
