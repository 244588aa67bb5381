// Package history keeps a SQLite log of refactoring runs and their artifacts.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	notebook_name TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	review        INTEGER NOT NULL DEFAULT 0,
	generate_ui   INTEGER NOT NULL DEFAULT 0,
	review_ui     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	finished_at   DATETIME
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	filename   TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(run_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// DB wraps a sql.DB with history-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
