// Package users is the boundary to the marketplace user collaborator.
//
// The escrow engine only needs to check that transaction parties exist
// and to resolve display names for the history view; account management
// itself belongs to the excluded profile/auth layer.
package users

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("users: user not found")

// User is the minimal projection of a marketplace account.
type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Directory resolves user ids.
type Directory interface {
	Get(ctx context.Context, id int64) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// Store persists users. The Create path exists for seeding and tests;
// production accounts are written by the profile service.
type Store interface {
	Directory
	Create(ctx context.Context, u *User) error
}
