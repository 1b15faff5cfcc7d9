package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/checksum"
	"github.com/starford/mnemo/internal/models"
)

const entryColumns = `id, source_type, content, content_hash, created_at, cwd, username, host, path, index_state`

// maxParams bounds the number of placeholders per statement.
const maxParams = 500

// ListFilter selects entries for List. Zero values mean "no constraint".
type ListFilter struct {
	Sources  []models.SourceType
	State    models.IndexState
	Since    time.Time
	Until    time.Time
	BeforeID int64
	Limit    int
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.Entry, error) {
	var (
		e     models.Entry
		src   string
		state string
		ts    int64
	)
	err := s.Scan(&e.ID, &src, &e.Content, &e.ContentHash, &ts,
		&e.Context.Cwd, &e.Context.User, &e.Context.Host, &e.Context.Path, &state)
	if err != nil {
		return e, err
	}
	e.Source = models.SourceType(src)
	e.IndexState = models.IndexState(state)
	e.Timestamp = time.Unix(0, ts).UTC()
	return e, nil
}

// Append persists e and returns its new id. The write is durable when
// Append returns. Zero timestamps are replaced by the current time.
func (db *DB) Append(ctx context.Context, e *models.Entry) (int64, error) {
	if !e.Source.Valid() {
		return 0, fmt.Errorf("store: append: %w: source %q", apperr.ErrInvalidInput, e.Source)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ContentHash == "" {
		e.ContentHash = checksum.String(e.Content)
	}
	e.IndexState = models.IndexPending

	db.wmu.Lock()
	defer db.wmu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO entries (source_type, content, content_hash, created_at, cwd, username, host, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.Source), e.Content, e.ContentHash, e.Timestamp.UnixNano(),
		e.Context.Cwd, e.Context.User, e.Context.Host, e.Context.Path)
	if err != nil {
		return 0, wrap("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("append", err)
	}
	e.ID = id
	return id, nil
}

// Get returns the entry with id, including its embedding when present.
func (db *DB) Get(ctx context.Context, id int64) (*models.Entry, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get", err)
	}

	var blob []byte
	err = db.conn.QueryRowContext(ctx, `SELECT vector FROM entry_embeddings WHERE entry_id = ?`, id).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, wrap("get embedding", err)
	default:
		if e.Embedding, err = decodeVector(blob); err != nil {
			return nil, wrap("get embedding", err)
		}
	}
	return &e, nil
}

// GetMany returns the entries that still exist among ids, keyed by id.
func (db *DB) GetMany(ctx context.Context, ids []int64) (map[int64]models.Entry, error) {
	out := make(map[int64]models.Entry, len(ids))
	for _, chunk := range chunks(ids, maxParams) {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE id IN (`+placeholders(len(chunk))+`)`,
			int64Args(chunk)...)
		if err != nil {
			return nil, wrap("get many", err)
		}
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return nil, wrap("get many", err)
			}
			out[e.ID] = e
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, wrap("get many", err)
		}
	}
	return out, nil
}

// List returns entries matching f, newest first.
func (db *DB) List(ctx context.Context, f ListFilter) ([]models.Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Sources) > 0 {
		where = append(where, `source_type IN (`+placeholders(len(f.Sources))+`)`)
		for _, s := range f.Sources {
			args = append(args, string(s))
		}
	}
	if f.State != "" {
		where = append(where, `index_state = ?`)
		args = append(args, string(f.State))
	}
	if !f.Since.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, `created_at < ?`)
		args = append(args, f.Until.UnixNano())
	}
	if f.BeforeID > 0 {
		where = append(where, `id < ?`)
		args = append(args, f.BeforeID)
	}

	q := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("list", err)
		}
		out = append(out, e)
	}
	return out, wrap("list", rows.Err())
}

// Existing returns the subset of ids that are still stored.
func (db *DB) Existing(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(ids))
	for _, chunk := range chunks(ids, maxParams) {
		got, err := db.queryIDs(ctx, `SELECT id FROM entries WHERE id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...)
		if err != nil {
			return nil, wrap("existing", err)
		}
		for _, id := range got {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// DeleteBefore removes every entry captured strictly before t and returns
// the removed ids.
func (db *DB) DeleteBefore(ctx context.Context, t time.Time) ([]int64, error) {
	return db.deleteSelected(ctx, "delete before",
		`SELECT id FROM entries WHERE created_at < ? ORDER BY id`, t.UnixNano())
}

// DeleteAll removes every entry and returns the removed ids.
func (db *DB) DeleteAll(ctx context.Context) ([]int64, error) {
	return db.deleteSelected(ctx, "delete all", `SELECT id FROM entries ORDER BY id`)
}

// Delete removes the given entries and returns the ids that existed.
func (db *DB) Delete(ctx context.Context, ids ...int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("delete", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var removed []int64
	for _, chunk := range chunks(ids, maxParams) {
		got, err := queryIDs(ctx, tx, `SELECT id FROM entries WHERE id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...)
		if err != nil {
			return nil, wrap("delete", err)
		}
		if err := deleteIDs(ctx, tx, got); err != nil {
			return nil, wrap("delete", err)
		}
		removed = append(removed, got...)
	}
	return removed, wrap("delete", tx.Commit())
}

// EvictOverLimit removes the oldest entries of src beyond limit, at most
// batch of them per call (batch <= 0 means no bound). It returns the removed
// ids; a result of exactly batch ids means more may remain.
func (db *DB) EvictOverLimit(ctx context.Context, src models.SourceType, limit, batch int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	if batch <= 0 {
		batch = -1
	}
	return db.deleteSelected(ctx, "evict", `
		SELECT id FROM (
			SELECT id FROM entries WHERE source_type = ? ORDER BY id DESC LIMIT -1 OFFSET ?
		) ORDER BY id ASC LIMIT ?
	`, string(src), limit, batch)
}

// Count returns the number of stored entries of src, or of all sources when
// src is empty.
func (db *DB) Count(ctx context.Context, src models.SourceType) (int64, error) {
	var n int64
	var err error
	if src == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entries`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entries WHERE source_type = ?`, string(src)).Scan(&n)
	}
	return n, wrap("count", err)
}

func (db *DB) deleteSelected(ctx context.Context, op, selectSQL string, args ...any) ([]int64, error) {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	ids, err := queryIDs(ctx, tx, selectSQL, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := deleteIDs(ctx, tx, ids); err != nil {
		return nil, wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap(op, err)
	}
	return ids, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (db *DB) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	return queryIDs(ctx, db.conn, q, args...)
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func deleteIDs(ctx context.Context, tx *sql.Tx, ids []int64) error {
	for _, chunk := range chunks(ids, maxParams) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entries WHERE id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func chunks(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func wrap(op string, err error) error {
	return apperr.NewStorageError(op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
