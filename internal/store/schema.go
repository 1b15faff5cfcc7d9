// Package store provides the SQLite-backed entry database: durable appends,
// literal search, retention eviction and persisted embeddings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type    TEXT    NOT NULL,
	content        TEXT    NOT NULL,
	content_hash   TEXT    NOT NULL,
	created_at     INTEGER NOT NULL,
	cwd            TEXT    NOT NULL DEFAULT '',
	username       TEXT    NOT NULL DEFAULT '',
	host           TEXT    NOT NULL DEFAULT '',
	path           TEXT    NOT NULL DEFAULT '',
	index_state    TEXT    NOT NULL DEFAULT 'pending',
	index_attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entries_source  ON entries(source_type, id);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_state   ON entries(index_state, id);

CREATE TABLE IF NOT EXISTS entry_embeddings (
	entry_id   INTEGER PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
	model      TEXT    NOT NULL,
	dimension  INTEGER NOT NULL,
	vector     BLOB    NOT NULL,
	created_at INTEGER NOT NULL
);
`

// DB wraps a sql.DB with entry-specific operations. Writes are serialized
// through a single writer lock so ids are assigned in capture order.
type DB struct {
	conn *sql.DB
	wmu  sync.Mutex
	path string
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	return &DB{conn: conn, path: dsn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Optimize runs SQLite's query planner maintenance and, when compiled in,
// merges the full-text index segments.
func (db *DB) Optimize(ctx context.Context) error {
	db.wmu.Lock()
	defer db.wmu.Unlock()
	if _, err := db.conn.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return wrap("optimize", err)
	}
	return wrap("optimize fts", ftsOptimize(ctx, db.conn))
}
