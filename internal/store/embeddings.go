package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

// SaveEmbedding stores vec for entry id and marks the entry indexed.
// It returns ErrNotFound when the entry has been deleted meanwhile.
func (db *DB) SaveEmbedding(ctx context.Context, id int64, model string, vec []float32) error {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save embedding", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.ExecContext(ctx, `UPDATE entries SET index_state = ? WHERE id = ?`, string(models.IndexIndexed), id)
	if err != nil {
		return wrap("save embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %d: %w", id, apperr.ErrNotFound)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entry_embeddings (entry_id, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			model      = excluded.model,
			dimension  = excluded.dimension,
			vector     = excluded.vector,
			created_at = excluded.created_at
	`, id, model, len(vec), encodeVector(vec), time.Now().UnixNano())
	if err != nil {
		return wrap("save embedding", err)
	}
	return wrap("save embedding", tx.Commit())
}

// RecordIndexAttempt increments the attempt counter of entry id and returns
// the new count.
func (db *DB) RecordIndexAttempt(ctx context.Context, id int64) (int, error) {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`UPDATE entries SET index_attempts = index_attempts + 1 WHERE id = ? RETURNING index_attempts`, id).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("entry %d: %w", id, apperr.ErrNotFound)
		}
		return 0, wrap("record attempt", err)
	}
	return n, nil
}

// MarkIndexFailed flags entry id as permanently unindexed. The entry stays
// available to literal search.
func (db *DB) MarkIndexFailed(ctx context.Context, id int64) error {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	_, err := db.conn.ExecContext(ctx, `UPDATE entries SET index_state = ? WHERE id = ?`, string(models.IndexFailed), id)
	return wrap("mark failed", err)
}

// InvalidateEmbeddings discards vectors produced by any model other than
// model and puts their entries back to pending so they are embedded again.
// It returns the number of entries reset.
func (db *DB) InvalidateEmbeddings(ctx context.Context, model string) (int64, error) {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("invalidate embeddings", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.ExecContext(ctx, `
		UPDATE entries SET index_state = ?, index_attempts = 0
		WHERE id IN (SELECT entry_id FROM entry_embeddings WHERE model <> ?)
	`, string(models.IndexPending), model)
	if err != nil {
		return 0, wrap("invalidate embeddings", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_embeddings WHERE model <> ?`, model); err != nil {
		return 0, wrap("invalidate embeddings", err)
	}
	return n, wrap("invalidate embeddings", tx.Commit())
}

// RequeueFailed puts entries marked failed back to pending.
func (db *DB) RequeueFailed(ctx context.Context) (int64, error) {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE entries SET index_state = ?, index_attempts = 0 WHERE index_state = ?`,
		string(models.IndexPending), string(models.IndexFailed))
	if err != nil {
		return 0, wrap("requeue failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingEmbeddings returns up to limit ids of entries still waiting for an
// embedding, oldest first, starting after afterID.
func (db *DB) PendingEmbeddings(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = -1
	}
	ids, err := db.queryIDs(ctx,
		`SELECT id FROM entries WHERE index_state = ? AND id > ? ORDER BY id LIMIT ?`,
		string(models.IndexPending), afterID, limit)
	return ids, wrap("pending embeddings", err)
}

// Embeddings calls fn for every persisted vector in id order. Iteration
// stops at the first error returned by fn.
func (db *DB) Embeddings(ctx context.Context, fn func(id int64, vec []float32) error) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT entry_id, vector FROM entry_embeddings ORDER BY entry_id`)
	if err != nil {
		return wrap("embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return wrap("embeddings", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return wrap("embeddings", fmt.Errorf("entry %d: %w", id, err))
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return wrap("embeddings", rows.Err())
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
