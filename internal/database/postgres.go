// Package database provides PostgreSQL access for the harvester scheduler.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	infraconfig "github.com/ironscout/harvester/infrastructure/config"
)

// ErrNotFound is returned when a lookup matches no row. Check with errors.Is.
var ErrNotFound = errors.New("not found")

const pingTimeout = 5 * time.Second

// NewPostgresConnection opens a pooled connection and verifies it with a ping.
func NewPostgresConnection(ctx context.Context, cfg infraconfig.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	return db, nil
}

// NewStore wires every repository onto one connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		Targets:  NewTargetRepository(db),
		Adapters: NewAdapterStatusRepository(db),
		Cycles:   NewCycleRepository(db),
		Runs:     NewRunRepository(db),
		Settings: NewSettingsRepository(db),
	}
}

// execRequireRows returns err, or notFoundErr when the statement touched no rows.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
