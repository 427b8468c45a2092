package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// OpenArchive connects to the Postgres archive.  dsn is any connection
// string lib/pq accepts.
func OpenArchive(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// The archiver is the only writer and runs one batch at a time.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}
	return db, nil
}

var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS reservation_archive (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(64),
		bus_id VARCHAR(64) NOT NULL,
		route_id VARCHAR(64) NOT NULL,
		seat_number INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL,
		hold_expires_at TIMESTAMPTZ,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archive_owner ON reservation_archive(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_archive_trip ON reservation_archive(bus_id, route_id)`,
}

// MigrateArchive creates the archive table if it does not exist yet.
func MigrateArchive(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range archiveSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive migration: %w", err)
		}
	}
	return nil
}
