package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationProviders,
		migrationSessions,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationProviders = `
CREATE TABLE IF NOT EXISTS providers (
	idx INTEGER PRIMARY KEY,
	owner TEXT NOT NULL,

	-- Capacity
	cpus INTEGER NOT NULL,
	gpus INTEGER NOT NULL,
	disk_gb INTEGER NOT NULL,
	ram_gb INTEGER NOT NULL,

	-- Availability
	available_until DATETIME NOT NULL,
	max_duration_hours INTEGER NOT NULL,

	-- Classification
	gpu_type INTEGER NOT NULL,
	service_type INTEGER NOT NULL,

	-- Engagement, owned by the marketplace
	engaged INTEGER NOT NULL DEFAULT 0,
	session_id TEXT,

	registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationSessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	client_addr TEXT NOT NULL,
	provider_addr TEXT NOT NULL,
	provider_idx INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT 'created',

	-- Connection handoff details
	url TEXT,
	secret TEXT,

	-- Embedded request
	cpus INTEGER NOT NULL,
	gpus INTEGER NOT NULL,
	duration_hours INTEGER NOT NULL,
	gpu_type INTEGER NOT NULL,
	service_type INTEGER NOT NULL,
	disk_gb INTEGER NOT NULL,
	ram_gb INTEGER NOT NULL,

	-- Escrow
	paid_amount TEXT NOT NULL,
	quote_usd_cents INTEGER NOT NULL,

	-- Timestamps
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	initialised_at DATETIME,
	started_at DATETIME,
	completed_at DATETIME,

	FOREIGN KEY (provider_idx) REFERENCES providers(idx)
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_providers_owner ON providers(owner);
CREATE INDEX IF NOT EXISTS idx_providers_engaged ON providers(engaged);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_client_addr ON sessions(client_addr);
CREATE INDEX IF NOT EXISTS idx_sessions_provider_addr ON sessions(provider_addr);
`
