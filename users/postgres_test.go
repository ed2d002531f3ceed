package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	findByEmailQuery = `(?s)^\s*SELECT\s+id,\s*name,\s*email,\s*password,\s*is_email_confirmed,\s*created_at,\s*updated_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1\s*$`
	createQuery      = `(?s)^\s*INSERT\s+INTO\s+users\s*\(name,\s*email,\s*password\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+id,\s*is_email_confirmed,\s*created_at,\s*updated_at\s*$`
	saveQuery        = `(?s)^\s*UPDATE\s+users\s+SET\s+name\s*=\s*\$1,\s*email\s*=\s*\$2,\s*password\s*=\s*\$3,\s*is_email_confirmed\s*=\s*\$4,\s*updated_at\s*=\s*NOW\(\)\s+WHERE\s+id\s*=\s*\$5\s+RETURNING\s+updated_at\s*$`
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresFindByEmail_Found(t *testing.T) {
	store, mock := newStoreWithMock(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password", "is_email_confirmed", "created_at", "updated_at"}).
		AddRow(int64(7), "Ada", "ada@example.com", "$2a$10$hash", true, created, created)
	mock.ExpectQuery(findByEmailQuery).WithArgs("ada@example.com").WillReturnRows(rows)

	u, err := store.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, &User{
		ID:               7,
		Name:             "Ada",
		Email:            "ada@example.com",
		PasswordHash:     "$2a$10$hash",
		IsEmailConfirmed: true,
		CreatedAt:        created,
		UpdatedAt:        created,
	}, u)
}

func TestPostgresFindByEmail_NotFound(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(findByEmailQuery).WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)

	_, err := store.FindByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresFindByEmail_DBError(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(findByEmailQuery).WithArgs("ada@example.com").WillReturnError(errors.New("db down"))

	_, err := store.FindByEmail(context.Background(), "ada@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "db down")
}

func TestPostgresCreate_Success(t *testing.T) {
	store, mock := newStoreWithMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "is_email_confirmed", "created_at", "updated_at"}).
		AddRow(int64(1), false, now, now)
	mock.ExpectQuery(createQuery).WithArgs("Ada", "ada@example.com", "hash").WillReturnRows(rows)

	u, err := store.Create(context.Background(), "Ada", "ada@example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "hash", u.PasswordHash)
	assert.False(t, u.IsEmailConfirmed)
	assert.Equal(t, now, u.CreatedAt)
}

func TestPostgresCreate_Duplicate(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(createQuery).WithArgs("Ada", "ada@example.com", "hash").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := store.Create(context.Background(), "Ada", "ada@example.com", "hash")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestPostgresCreate_DBError(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(createQuery).WithArgs("Ada", "ada@example.com", "hash").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Create(context.Background(), "Ada", "ada@example.com", "hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyExists)
}

func TestPostgresSave(t *testing.T) {
	store, mock := newStoreWithMock(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	u := &User{ID: 7, Name: "Ada", Email: "ada@example.com", PasswordHash: "new-hash", IsEmailConfirmed: true, CreatedAt: created, UpdatedAt: created}
	mock.ExpectQuery(saveQuery).WithArgs("Ada", "ada@example.com", "new-hash", true, int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(updated))

	saved, err := store.Save(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, updated, saved.UpdatedAt)
	assert.Equal(t, created, saved.CreatedAt)
	assert.Equal(t, created, u.UpdatedAt, "input must not be mutated")
}

func TestPostgresSave_Missing(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(saveQuery).WithArgs("Ada", "ada@example.com", "hash", false, int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Save(context.Background(), &User{ID: 99, Name: "Ada", Email: "ada@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrNotFound)
}
