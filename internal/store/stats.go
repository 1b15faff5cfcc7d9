package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/starford/mnemo/internal/models"
)

// Stats summarizes the corpus.
type Stats struct {
	Total      int64                       `json:"total"`
	BySource   map[models.SourceType]int64 `json:"by_source"`
	ByState    map[models.IndexState]int64 `json:"by_state"`
	Embeddings int64                       `json:"embeddings"`
	Oldest     *time.Time                  `json:"oldest,omitempty"`
	Newest     *time.Time                  `json:"newest,omitempty"`
	SizeBytes  int64                       `json:"size_bytes"`
}

// Stats returns corpus counters.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		BySource: make(map[models.SourceType]int64),
		ByState:  make(map[models.IndexState]int64),
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT source_type, index_state, count(*) FROM entries GROUP BY source_type, index_state`)
	if err != nil {
		return nil, wrap("stats", err)
	}
	for rows.Next() {
		var (
			src, state string
			n          int64
		)
		if err := rows.Scan(&src, &state, &n); err != nil {
			rows.Close()
			return nil, wrap("stats", err)
		}
		st.BySource[models.SourceType(src)] += n
		st.ByState[models.IndexState(state)] += n
		st.Total += n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrap("stats", err)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entry_embeddings`).Scan(&st.Embeddings); err != nil {
		return nil, wrap("stats", err)
	}

	var oldest, newest sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, `SELECT min(created_at), max(created_at) FROM entries`).Scan(&oldest, &newest); err != nil {
		return nil, wrap("stats", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		st.Oldest = &t
	}
	if newest.Valid {
		t := time.Unix(0, newest.Int64).UTC()
		st.Newest = &t
	}

	var pages, pageSize int64
	if err := db.conn.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return nil, wrap("stats", err)
	}
	if err := db.conn.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, wrap("stats", err)
	}
	st.SizeBytes = pages * pageSize
	return st, nil
}
