package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSN builds the MySQL connection string.
func DSN(user, pass, host, port, name string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Conditional updates rely on RowsAffected counting matched rows, not
	// changed rows.
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(user, pass, host, port, name))
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// mysqlSchema creates the primary tables.  claim_slot is 1 for a live claim
// and NULL otherwise; since a unique index ignores NULLs, at most one live
// claim can exist per trip seat.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS buses (
		id VARCHAR(64) PRIMARY KEY,
		ntc_number VARCHAR(32) NOT NULL,
		capacity INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		id VARCHAR(64) PRIMARY KEY,
		start_location VARCHAR(128) NOT NULL,
		end_location VARCHAR(128) NOT NULL,
		distance DOUBLE NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS seat_reservations (
		id CHAR(36) PRIMARY KEY,
		owner_id VARCHAR(64) NULL,
		bus_id VARCHAR(64) NOT NULL,
		route_id VARCHAR(64) NOT NULL,
		seat_number INT NOT NULL,
		status ENUM('available','on-hold','booked') NOT NULL,
		hold_expires_at DATETIME(3) NULL,
		deleted TINYINT(1) NOT NULL DEFAULT 0,
		deleted_at DATETIME(3) NULL,
		archive_pending TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		claim_slot TINYINT AS (IF(deleted = 0 AND status IN ('on-hold','booked'), 1, NULL)) STORED,
		UNIQUE KEY uq_seat_claim (bus_id, route_id, seat_number, claim_slot),
		KEY idx_owner (owner_id, deleted),
		KEY idx_trip (bus_id, route_id, deleted),
		KEY idx_hold_due (status, hold_expires_at),
		KEY idx_archivable (created_at, id)
	)`,
}

// Migrate creates the primary schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range mysqlSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql migration: %w", err)
		}
	}
	return nil
}
