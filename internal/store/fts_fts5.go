//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/starford/mnemo/internal/textnorm"
)

func initFTS(conn *sql.DB) error {
	var existing int
	if err := conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name = 'entries_fts'`).Scan(&existing); err != nil {
		return err
	}
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			content,
			content = 'entries',
			content_rowid = 'id',
			tokenize = 'trigram'
		);

		CREATE TRIGGER IF NOT EXISTS entries_fts_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, content) VALUES (new.id, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_fts_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
	`)
	if err != nil || existing > 0 {
		return err
	}
	// A database created by a build without FTS5 already holds rows.
	_, err = conn.Exec(`INSERT INTO entries_fts(entries_fts) VALUES ('rebuild')`)
	return err
}

// ftsCandidates returns a superset of the ids whose content contains query:
// trigram hits plus every entry holding characters outside printable ASCII,
// whose normalized form the trigram index cannot see. ok is false when the
// index cannot answer the query and the caller must scan instead.
func ftsCandidates(ctx context.Context, conn *sql.DB, query string) (ids map[int64]struct{}, ok bool, err error) {
	if !textnorm.IsASCII(query) || utf8.RuneCountInString(query) < 3 {
		return nil, false, nil
	}
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := conn.QueryContext(ctx, `
		SELECT rowid FROM entries_fts WHERE entries_fts MATCH ?
		UNION
		SELECT id FROM entries WHERE content GLOB '*[^ -~]*'
	`, phrase)
	if err != nil {
		return nil, false, fmt.Errorf("fts match: %w", err)
	}
	defer rows.Close()

	ids = make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, false, err
		}
		ids[id] = struct{}{}
	}
	return ids, true, rows.Err()
}

func ftsOptimize(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, `INSERT INTO entries_fts(entries_fts) VALUES ('optimize')`)
	return err
}
