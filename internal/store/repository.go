package store

import (
	"context"
	"time"

	"github.com/starford/mnemo/internal/models"
)

// Repository defines the entry database operations.
// Consumers should depend on this interface (or a narrower one) rather than
// the concrete *DB type to facilitate testing with fakes.
type Repository interface {
	Append(ctx context.Context, e *models.Entry) (int64, error)
	Get(ctx context.Context, id int64) (*models.Entry, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]models.Entry, error)
	List(ctx context.Context, f ListFilter) ([]models.Entry, error)
	Existing(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	QueryLiteral(ctx context.Context, q LiteralQuery) ([]Match, error)
	Delete(ctx context.Context, ids ...int64) ([]int64, error)
	DeleteBefore(ctx context.Context, t time.Time) ([]int64, error)
	DeleteAll(ctx context.Context) ([]int64, error)
	EvictOverLimit(ctx context.Context, src models.SourceType, limit, batch int) ([]int64, error)
	Count(ctx context.Context, src models.SourceType) (int64, error)
	SaveEmbedding(ctx context.Context, id int64, model string, vec []float32) error
	RecordIndexAttempt(ctx context.Context, id int64) (int, error)
	MarkIndexFailed(ctx context.Context, id int64) error
	PendingEmbeddings(ctx context.Context, afterID int64, limit int) ([]int64, error)
	InvalidateEmbeddings(ctx context.Context, model string) (int64, error)
	RequeueFailed(ctx context.Context) (int64, error)
	Embeddings(ctx context.Context, fn func(id int64, vec []float32) error) error
	Stats(ctx context.Context) (*Stats, error)
	Optimize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies Repository at compile time.
var _ Repository = (*DB)(nil)
