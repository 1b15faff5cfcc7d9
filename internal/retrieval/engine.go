// Package retrieval answers literal, semantic and hybrid queries over the
// entry history.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/metrics"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
	"github.com/starford/mnemo/internal/vectorindex"
)

// Mode selects the search strategy.
type Mode string

const (
	ModeLiteral  Mode = "literal"
	ModeSemantic Mode = "semantic"
	ModeAuto     Mode = "auto"
)

// ParseMode converts s into a Mode. An empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeLiteral, ModeSemantic, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown search mode %q: %w", s, apperr.ErrInvalidInput)
}

// literalBaseline scales the similarity threshold into the score given to
// literal hits merged into an auto search, so they rank below every
// semantic hit.
const literalBaseline = 0.9

// Score bonuses for results captured in the query's working directory, or in
// a directory above or below it.
const (
	cwdExactBoost   = 0.15
	cwdRelatedBoost = 0.08
)

// ErrSemanticUnavailable is returned by semantic searches when no embedding
// provider or index is configured.
var ErrSemanticUnavailable = errors.New("retrieval: semantic search unavailable")

// Query is a search request. Cwd ranks entries captured in or near that
// directory higher. Since is inclusive and Until exclusive; a zero bound
// leaves that side open.
type Query struct {
	Text    string              `json:"query"`
	Mode    Mode                `json:"mode"`
	Sources []models.SourceType `json:"sources,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Cwd     string              `json:"cwd,omitempty"`
	Since   time.Time           `json:"since,omitzero"`
	Until   time.Time           `json:"until,omitzero"`
}

func (q Query) inWindow(ts time.Time) bool {
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	return q.Until.IsZero() || ts.Before(q.Until)
}

// exhaustive reports whether candidates must be filtered or re-ranked after
// retrieval, so a limit cannot be pushed down to the backend.
func (q Query) exhaustive() bool {
	return len(q.Sources) > 0 || !q.Since.IsZero() || !q.Until.IsZero() || q.Cwd != ""
}

// Result is a ranked entry.
type Result struct {
	Entry models.Entry `json:"entry"`
	Score float64      `json:"score"`
	Match Mode         `json:"match"`
}

// Store is the storage the engine reads.
type Store interface {
	QueryLiteral(ctx context.Context, q store.LiteralQuery) ([]store.Match, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]models.Entry, error)
}

// Index is the vector index the engine queries.
type Index interface {
	Search(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]vectorindex.Hit, error)
	Remove(ctx context.Context, ids ...int64) error
}

// Engine runs searches. Each search reads one settings snapshot.
type Engine struct {
	settings *settings.Store
	store    Store
	index    Index
	embedder embedding.Provider
	cache    *lru.Cache[string, []float32]
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSemantic enables semantic search over idx with queries embedded by p.
func WithSemantic(idx Index, p embedding.Provider) Option {
	return func(e *Engine) {
		e.index = idx
		e.embedder = p
	}
}

// WithMetrics records search metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithCacheSize sets how many query embeddings are cached.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cache, _ = lru.New[string, []float32](n)
		}
	}
}

// New creates an engine. Without WithSemantic, semantic searches fail with
// ErrSemanticUnavailable and auto searches are literal only.
func New(st *settings.Store, s Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{settings: st, store: s, logger: logger}
	e.cache, _ = lru.New[string, []float32](256)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Search runs q. It returns an error only when the search itself failed;
// an empty result set with a nil error means nothing matched.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Mode == "" {
		q.Mode = ModeAuto
	}
	snap := e.settings.Snapshot()
	if q.Limit <= 0 {
		q.Limit = snap.Search.MaxResults
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Since.Before(q.Until) {
		return nil, fmt.Errorf("search window since %s is not before until %s: %w",
			q.Since.Format(time.RFC3339), q.Until.Format(time.RFC3339), apperr.ErrInvalidInput)
	}

	start := time.Now()
	var (
		results []Result
		err     error
	)
	switch q.Mode {
	case ModeLiteral:
		results, err = e.literal(ctx, snap, q)
	case ModeSemantic:
		results, err = e.semantic(ctx, snap, q)
	case ModeAuto:
		results, err = e.auto(ctx, snap, q)
	default:
		err = fmt.Errorf("unknown search mode %q: %w", q.Mode, apperr.ErrInvalidInput)
	}
	if err == nil && q.Cwd != "" {
		results = boostCwd(results, q.Cwd, q.Limit)
	}

	if e.metrics != nil {
		status := "ok"
		switch {
		case err != nil:
			status = "failed"
		case len(results) == 0:
			status = "no_results"
		}
		e.metrics.SearchesTotal.WithLabelValues(string(q.Mode), status).Inc()
		e.metrics.SearchDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
	}
	return results, err
}

func (e *Engine) literal(ctx context.Context, snap *settings.Snapshot, q Query) ([]Result, error) {
	limit := q.Limit
	if q.Cwd != "" {
		limit = 0
	}
	matches, err := e.store.QueryLiteral(ctx, store.LiteralQuery{
		Text:          q.Text,
		Sources:       q.Sources,
		CaseSensitive: snap.Settings.CaseSensitive(q.Sources),
		Fuzzy:         snap.Search.FuzzyMatching,
		Limit:         limit,
		Since:         q.Since,
		Until:         q.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: literal: %w", err)
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{Entry: m.Entry, Score: m.Score, Match: ModeLiteral}
	}
	return out, nil
}

func (e *Engine) semantic(ctx context.Context, snap *settings.Snapshot, q Query) ([]Result, error) {
	if e.index == nil || e.embedder == nil {
		return nil, ErrSemanticUnavailable
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	vec, err := e.embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	// Filters and the cwd boost apply after hydration, so every hit is needed.
	k := q.Limit
	if q.exhaustive() {
		k = 0
	}
	hits, err := e.index.Search(ctx, vec, k, snap.Search.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval: semantic: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	entries, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hydrate: %w", err)
	}

	var vanished []int64
	out := make([]Result, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		entry, ok := entries[h.ID]
		if !ok {
			vanished = append(vanished, h.ID)
			continue
		}
		if len(q.Sources) > 0 && !slices.Contains(q.Sources, entry.Source) {
			continue
		}
		if !q.inWindow(entry.Timestamp) {
			continue
		}
		if _, dup := seen[entry.ContentHash]; dup {
			continue
		}
		seen[entry.ContentHash] = struct{}{}
		out = append(out, Result{Entry: entry, Score: float64(h.Similarity), Match: ModeSemantic})
		if q.Cwd == "" && len(out) == q.Limit {
			break
		}
	}
	if len(vanished) > 0 {
		if err := e.index.Remove(ctx, vanished...); err != nil {
			e.logger.Warn("retrieval: prune vanished entries", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func (e *Engine) auto(ctx context.Context, snap *settings.Snapshot, q Query) ([]Result, error) {
	var semErr error
	sem, err := e.semantic(ctx, snap, q)
	if err != nil {
		semErr = err
		if !errors.Is(err, ErrSemanticUnavailable) {
			e.logger.Warn("retrieval: semantic leg failed, using literal search", slog.String("error", err.Error()))
		}
		sem = nil
	}
	if semErr == nil && len(sem) >= snap.Search.AutoMinResults {
		return sem, nil
	}

	lit, err := e.literal(ctx, snap, q)
	if err != nil {
		if semErr != nil {
			return nil, errors.Join(semErr, err)
		}
		e.logger.Warn("retrieval: literal leg failed", slog.String("error", err.Error()))
		return sem, nil
	}
	if semErr != nil {
		return dedupContent(lit), nil
	}
	limit := q.Limit
	if q.Cwd != "" {
		limit = 0
	}
	return merge(sem, lit, literalBaseline*snap.Search.SimilarityThreshold, limit), nil
}

// dedupContent keeps the first result for each distinct content.
func dedupContent(rs []Result) []Result {
	seen := make(map[string]struct{}, len(rs))
	out := rs[:0]
	for _, r := range rs {
		if _, ok := seen[r.Entry.ContentHash]; ok {
			continue
		}
		seen[r.Entry.ContentHash] = struct{}{}
		out = append(out, r)
	}
	return out
}

// merge appends literal results not already present to sem, scoring them at
// baseline. Semantic results win ties and repeated contents are dropped.
func merge(sem, lit []Result, baseline float64, limit int) []Result {
	out := make([]Result, 0, len(sem)+len(lit))
	ids := make(map[int64]struct{}, len(sem))
	hashes := make(map[string]struct{}, len(sem))
	for _, r := range sem {
		ids[r.Entry.ID] = struct{}{}
		hashes[r.Entry.ContentHash] = struct{}{}
		out = append(out, r)
	}
	for _, r := range lit {
		if _, ok := ids[r.Entry.ID]; ok {
			continue
		}
		if _, ok := hashes[r.Entry.ContentHash]; ok {
			continue
		}
		hashes[r.Entry.ContentHash] = struct{}{}
		r.Score = baseline
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// boostCwd raises the score of results captured in cwd or in a directory
// related to it, then re-ranks by score and recency and applies limit.
func boostCwd(results []Result, cwd string, limit int) []Result {
	cwd = filepath.Clean(cwd)
	for i := range results {
		results[i].Score += cwdBoost(results[i].Entry.Context.Cwd, cwd)
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.Entry.ID, a.Entry.ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func cwdBoost(entryCwd, cwd string) float64 {
	if entryCwd == "" {
		return 0
	}
	entryCwd = filepath.Clean(entryCwd)
	switch {
	case entryCwd == cwd:
		return cwdExactBoost
	case within(entryCwd, cwd), within(cwd, entryCwd):
		return cwdRelatedBoost
	}
	return 0
}

// within reports whether path lies below dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	key := e.embedder.Model() + "\x00" + text
	if vec, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.QueryCacheHits.Inc()
		}
		return vec, nil
	}
	if e.metrics != nil {
		e.metrics.QueryCacheMiss.Inc()
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// PurgeCache drops every cached query embedding.
func (e *Engine) PurgeCache() { e.cache.Purge() }
