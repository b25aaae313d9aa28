// Package database implements store.Store over SQLite or PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jordanhubbard/ouroboros/pkg/config"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// Database represents the ouroboros work item database
type Database struct {
	db         *sql.DB
	dialect    string
	supportsHA bool
}

// Open selects the driver from config.
func Open(cfg config.DatabaseConfig) (*Database, error) {
	switch cfg.Type {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "sqlite", "":
		return New(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// New creates a new SQLite database instance and initializes the schema
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	d := &Database{db: db, dialect: dialectSQLite}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the underlying handle for health checks.
func (d *Database) DB() *sql.DB {
	return d.db
}

// SupportsHA reports whether cross-process locks are backed by a shared server.
func (d *Database) SupportsHA() bool {
	return d.supportsHA
}

// q rebinds placeholders for the active dialect.
func (d *Database) q(query string) string {
	if d.dialect == dialectPostgres {
		return rebind(query)
	}
	return query
}

// initSchema creates the SQLite tables
func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		external_tracker_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS distributed_locks (
		lock_name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_work_items_updated_at ON work_items(updated_at);
	CREATE INDEX IF NOT EXISTS idx_work_items_external_tracker_id ON work_items(external_tracker_id);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// utc normalizes timestamps before they reach the driver so that text
// comparisons in SQLite order correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}
