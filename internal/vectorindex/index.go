// Package vectorindex keeps an in-memory nearest-neighbour index of entry
// embeddings, mirrored from the persistent entry_embeddings table, and the
// background indexer that fills it.
package vectorindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/starford/mnemo/internal/apperr"
)

const collectionName = "entries"

// similarityTolerance absorbs the float32 rounding of chromem's normalized
// dot product, so a cosine equal to the threshold is not reported just below it.
const similarityTolerance = 1e-6

// Hit is a semantic match.
type Hit struct {
	ID         int64
	Similarity float32
}

// EmbeddingSource streams persisted vectors.
type EmbeddingSource interface {
	Embeddings(ctx context.Context, fn func(id int64, vec []float32) error) error
}

// Index is a cosine-similarity index keyed by entry id. Add and Remove are
// serialized so that a persisted vector is never added after its entry was
// removed.
type Index struct {
	wmu sync.Mutex

	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection
	ids map[int64]struct{}
	dim int
}

// New creates an empty index.
func New() *Index {
	ix := &Index{}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		// Only fails on an empty name.
		panic(fmt.Sprintf("vectorindex: create collection: %v", err))
	}
	ix.db = db
	ix.col = col
	ix.ids = make(map[int64]struct{})
	ix.dim = 0
}

// noEmbed is the collection's embedding function. Every document and query
// carries a precomputed vector, so it is never expected to run.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorindex: documents must carry an embedding")
}

// Load replaces the index contents with every vector from src. Vectors whose
// dimension differs from the first one loaded are skipped; their count is
// returned alongside the number loaded.
func (ix *Index) Load(ctx context.Context, src EmbeddingSource) (loaded, skipped int, err error) {
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	ix.mu.Lock()
	ix.reset()
	ix.mu.Unlock()

	err = src.Embeddings(ctx, func(id int64, vec []float32) error {
		if err := ix.add(ctx, id, vec); err != nil {
			if apperr.IsPermanentIndex(err) {
				skipped++
				return nil
			}
			return err
		}
		loaded++
		return nil
	})
	return loaded, skipped, err
}

// Add persists vec through persist and, if that succeeds, makes it
// searchable. A dimension mismatch is a permanent IndexError and nothing is
// persisted.
func (ix *Index) Add(ctx context.Context, id int64, vec []float32, persist func() error) error {
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	if err := ix.checkDim(id, vec); err != nil {
		return err
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	return ix.add(ctx, id, vec)
}

func (ix *Index) checkDim(id int64, vec []float32) error {
	ix.mu.RLock()
	dim := ix.dim
	ix.mu.RUnlock()
	if len(vec) == 0 {
		return &apperr.IndexError{EntryID: id, Permanent: true, Err: errors.New("empty vector")}
	}
	if dim != 0 && len(vec) != dim {
		return &apperr.IndexError{EntryID: id, Permanent: true,
			Err: fmt.Errorf("dimension %d does not match index dimension %d", len(vec), dim)}
	}
	return nil
}

func (ix *Index) add(ctx context.Context, id int64, vec []float32) error {
	if err := ix.checkDim(id, vec); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	doc := chromem.Document{ID: docID(id), Embedding: slices.Clone(vec)}
	if err := ix.col.AddDocument(ctx, doc); err != nil {
		return &apperr.IndexError{EntryID: id, Err: err}
	}
	ix.ids[id] = struct{}{}
	if ix.dim == 0 {
		ix.dim = len(vec)
	}
	return nil
}

// Remove drops ids from the index. Unknown ids are ignored.
func (ix *Index) Remove(ctx context.Context, ids ...int64) error {
	ix.wmu.Lock()
	defer ix.wmu.Unlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var docIDs []string
	for _, id := range ids {
		if _, ok := ix.ids[id]; ok {
			docIDs = append(docIDs, docID(id))
			delete(ix.ids, id)
		}
	}
	if len(docIDs) == 0 {
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, docIDs...); err != nil {
		return fmt.Errorf("vectorindex: remove: %w", err)
	}
	return nil
}

// Search returns the entries whose similarity to vec is at least minSimilarity,
// ordered by similarity and then by recency. k <= 0 returns every hit.
func (ix *Index) Search(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := ix.col.Count()
	if n == 0 {
		return nil, nil
	}
	if len(vec) != ix.dim {
		return nil, &apperr.IndexError{Permanent: true,
			Err: fmt.Errorf("query dimension %d does not match index dimension %d", len(vec), ix.dim)}
	}

	results, err := ix.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity)+similarityTolerance < minSimilarity {
			continue
		}
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: r.Similarity})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Has reports whether id is indexed.
func (ix *Index) Has(id int64) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.ids[id]
	return ok
}

// IDs returns every indexed id in ascending order.
func (ix *Index) IDs() []int64 {
	ix.mu.RLock()
	out := make([]int64, 0, len(ix.ids))
	for id := range ix.ids {
		out = append(out, id)
	}
	ix.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Dimension returns the vector dimension, 0 while empty.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }
