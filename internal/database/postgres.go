package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// postgresSchema is applied statement by statement on every start.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		external_tracker_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS distributed_locks (
		lock_name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_updated_at ON work_items(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_external_tracker_id ON work_items(external_tracker_id)`,
}

// rebind rewrites ? placeholders as $1, $2, ... Queries here never contain a
// literal question mark.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// NewPostgres connects with lib/pq and applies the schema.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for i, stmt := range postgresSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres schema step %d: %w", i+1, err)
		}
	}
	return &Database{db: db, dialect: dialectPostgres, supportsHA: true}, nil
}
