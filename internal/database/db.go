package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/storeline/scan-station/internal/config"
)

// DBTX is an interface that both *sqlx.DB and *sqlx.Tx satisfy.
// This allows repositories to work with either a direct connection or a transaction.
type DBTX interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ DBTX = (*sqlx.DB)(nil)
var _ DBTX = (*sqlx.Tx)(nil)

type DB struct {
	*sqlx.DB
}

const scanEventsSchema = `
CREATE TABLE IF NOT EXISTS scan_events (
	id          UUID PRIMARY KEY,
	station_id  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	raw_text    TEXT NOT NULL,
	code_type   TEXT NOT NULL,
	method      TEXT NOT NULL,
	resolved_id TEXT,
	scanned_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_events_station_scanned_at
	ON scan_events (station_id, scanned_at DESC);
`

// Connect opens the Postgres scan history database.
func Connect(databaseURL string) (*DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	return &DB{db}, nil
}

// EnsureSchema creates the scan history table when it is missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, scanEventsSchema); err != nil {
		return fmt.Errorf("create scan_events: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
