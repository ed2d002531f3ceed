// Package users holds the user record and the stores that persist it.
// Authentication code only talks to the Store interface; the Postgres store is
// used in deployments and the memory store in development and tests.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user has the requested email.
	ErrNotFound = errors.New("user not found")
	// ErrAlreadyExists is returned when creating a user whose email is taken.
	ErrAlreadyExists = errors.New("user already exists")
)

// User represents a registered account.
type User struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"` // Never serialized
	IsEmailConfirmed bool      `json:"isEmailConfirmed"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists users. Implementations must be safe for concurrent use.
type Store interface {
	// FindByEmail returns ErrNotFound when no user has email.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Create inserts a new, unconfirmed user and returns it with its id and
	// timestamps filled in. A taken email yields ErrAlreadyExists.
	Create(ctx context.Context, name, email, passwordHash string) (*User, error)
	// Save writes every mutable field of u and refreshes UpdatedAt.
	// It returns ErrNotFound if u no longer exists.
	Save(ctx context.Context, u *User) (*User, error)
}
