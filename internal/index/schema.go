// Package index provides a SQLite-backed cache of resolved PDF versions and
// a watcher that keeps it consistent with a local file-system store.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pdf_versions (
	doi         TEXT    NOT NULL,
	version     TEXT    NOT NULL,
	position    INTEGER NOT NULL,
	is_chunked  INTEGER NOT NULL DEFAULT 0,
	ids         TEXT    NOT NULL DEFAULT '[]',
	upload_ts   INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER NOT NULL,
	PRIMARY KEY (doi, version)
);

CREATE TABLE IF NOT EXISTS store_entries (
	id       TEXT PRIMARY KEY,
	doi      TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_store_entries_doi ON store_entries(doi);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
