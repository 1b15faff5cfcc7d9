//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; literal search scans the entries table.
	return nil
}

func ftsCandidates(_ context.Context, _ *sql.DB, _ string) (map[int64]struct{}, bool, error) {
	return nil, false, nil
}

func ftsOptimize(_ context.Context, _ *sql.DB) error { return nil }
