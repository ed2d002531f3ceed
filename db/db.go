// Package db provides database connectivity and migration functionality.
// It opens the pgx connection pool, exposes it as a *sql.DB for the user store,
// and applies the embedded schema migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPool establishes a pgx connection pool and verifies it with a ping.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error parsing DSN for database %s", cfg.DBName), err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.MaxConnLifetime = 30 * time.Minute

	createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(createCtx, poolConfig)
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error creating pgxpool for database %s", cfg.DBName), err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error connecting to the database %s with pgxpool", cfg.DBName), err)
	}

	return pool, nil
}

// OpenSQL exposes pool through database/sql. Closing the returned *sql.DB
// does not close the pool.
func OpenSQL(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Direction selects which way migrations run.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection validates a direction given on the command line.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown migration direction %q, expected %q or %q", s, Up, Down)
	}
}

// migrationsSource returns the embedded migration files as a migrate source.
func migrationsSource() (source.Driver, error) {
	return iofs.New(migrationsFS, "migrations")
}

// RunMigrations applies (Up) or reverts (Down) every embedded migration.
// Having nothing to do is not an error.
func RunMigrations(db *sql.DB, dir Direction, logger *logrus.Logger) error {
	src, err := migrationsSource()
	if err != nil {
		return apperror.NewMigrationError("failed to open embedded migrations", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return apperror.NewMigrationError("failed to create migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return apperror.NewMigrationError("failed to create migrator", err)
	}

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return apperror.NewMigrationError(fmt.Sprintf("unknown migration direction %q", dir), nil)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperror.NewMigrationError(fmt.Sprintf("failed to run migrations %s", dir), err)
	}

	version, dirty, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		logger.WithField("direction", dir).Info("Migrations complete, schema is empty")
	case verr != nil:
		logger.WithError(verr).Warn("Could not read migration version")
	default:
		logger.WithFields(logrus.Fields{"direction": dir, "version": version, "dirty": dirty}).Info("Migrations complete")
	}
	return nil
}
