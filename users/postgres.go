package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// PostgresStore keeps users in the `users` table. It works on a *sql.DB backed
// by the pgx driver (see db.OpenSQL).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByEmail looks a user up by email.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, password, is_email_confirmed, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var u User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.IsEmailConfirmed,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &u, nil
}

// Create inserts a user.
func (s *PostgresStore) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	query := `
		INSERT INTO users (name, email, password)
		VALUES ($1, $2, $3)
		RETURNING id, is_email_confirmed, created_at, updated_at
	`

	u := User{Name: name, Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, query, name, email, passwordHash).Scan(
		&u.ID,
		&u.IsEmailConfirmed,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

// Save updates a user.
func (s *PostgresStore) Save(ctx context.Context, u *User) (*User, error) {
	query := `
		UPDATE users
		SET name = $1, email = $2, password = $3, is_email_confirmed = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`

	saved := *u
	err := s.db.QueryRowContext(ctx, query, u.Name, u.Email, u.PasswordHash, u.IsEmailConfirmed, u.ID).
		Scan(&saved.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return &saved, nil
}
