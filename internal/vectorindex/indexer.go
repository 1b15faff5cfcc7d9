package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/metrics"
	"github.com/starford/mnemo/internal/models"
)

// Store is the part of the entry database the indexer needs.
type Store interface {
	EmbeddingSource
	Get(ctx context.Context, id int64) (*models.Entry, error)
	Existing(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	SaveEmbedding(ctx context.Context, id int64, model string, vec []float32) error
	RecordIndexAttempt(ctx context.Context, id int64) (int, error)
	MarkIndexFailed(ctx context.Context, id int64) error
	PendingEmbeddings(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// Config tunes the indexer.
type Config struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
	RescanBatch    int           `yaml:"rescan_batch"`
}

// DefaultConfig returns the indexer defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      1024,
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		RescanInterval: time.Minute,
		RescanBatch:    500,
	}
}

// Listener receives indexing outcomes.
type Listener interface {
	EntryIndexed(id int64)
	EntryIndexFailed(id int64, err error)
}

// Indexer embeds queued entries in the background. The queue is bounded and
// lossy: jobs that do not fit are recovered by Rescan, which re-enqueues every
// entry still pending in the database.
type Indexer struct {
	cfg      Config
	store    Store
	index    *Index
	embedder embedding.Provider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	listener Listener

	queue chan int64

	mu       sync.Mutex
	pending  map[int64]struct{}
	backoffs map[int64]*backoff.ExponentialBackOff
	runCtx   context.Context
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithListener registers l for indexing outcomes.
func WithListener(l Listener) IndexerOption {
	return func(ix *Indexer) { ix.listener = l }
}

// WithMetrics records indexing metrics on m.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(ix *Indexer) { ix.metrics = m }
}

// NewIndexer creates an indexer. Call Run to start processing.
func NewIndexer(cfg Config, store Store, index *Index, embedder embedding.Provider, logger *slog.Logger, opts ...IndexerOption) *Indexer {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.RescanBatch <= 0 {
		cfg.RescanBatch = def.RescanBatch
	}
	ix := &Indexer{
		cfg:      cfg,
		store:    store,
		index:    index,
		embedder: embedder,
		logger:   logger,
		queue:    make(chan int64, cfg.QueueSize),
		pending:  make(map[int64]struct{}),
		backoffs: make(map[int64]*backoff.ExponentialBackOff),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Index returns the index the indexer fills.
func (ix *Indexer) Index() *Index { return ix.index }

// Capacity returns the queue size.
func (ix *Indexer) Capacity() int { return ix.cfg.QueueSize }

// Enqueue schedules id for embedding without blocking. It reports false when
// the queue is full; the entry stays pending and Rescan will pick it up.
func (ix *Indexer) Enqueue(id int64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.pending[id]; ok {
		return true
	}
	select {
	case ix.queue <- id:
		ix.pending[id] = struct{}{}
		ix.setDepth()
		return true
	default:
		if ix.metrics != nil {
			ix.metrics.IndexFailuresTotal.WithLabelValues("dropped").Inc()
		}
		return false
	}
}

// Backlog returns the number of entries queued, in flight or awaiting a retry.
func (ix *Indexer) Backlog() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.pending)
}

// Run starts the workers and the periodic rescan, and blocks until ctx is
// cancelled. An initial rescan recovers entries left pending by a previous
// run or written by another process.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.mu.Lock()
	ix.runCtx = ctx
	ix.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < ix.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix.worker(ctx)
		}()
	}

	ix.logger.Info("indexer: started",
		slog.Int("workers", ix.cfg.Workers),
		slog.Int("queue_size", ix.cfg.QueueSize))

	if _, err := ix.Rescan(ctx); err != nil && ctx.Err() == nil {
		ix.logger.Warn("indexer: initial rescan failed", slog.String("error", err.Error()))
	}

	var tick <-chan time.Time
	if ix.cfg.RescanInterval > 0 {
		t := time.NewTicker(ix.cfg.RescanInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			ix.logger.Info("indexer: stopped")
			return nil
		case <-tick:
			if _, err := ix.Rescan(ctx); err != nil && ctx.Err() == nil {
				ix.logger.Warn("indexer: rescan failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (ix *Indexer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-ix.queue:
			ix.process(ctx, id)
		}
	}
}

func (ix *Indexer) process(ctx context.Context, id int64) {
	added, err := ix.indexOnce(ctx, id)
	switch {
	case err == nil:
		ix.done(id)
		if !added {
			return
		}
		if ix.metrics != nil {
			ix.metrics.IndexedTotal.Inc()
			ix.metrics.IndexSize.Set(float64(ix.index.Len()))
		}
		if ix.listener != nil {
			ix.listener.EntryIndexed(id)
		}

	case errors.Is(err, apperr.ErrNotFound):
		// Deleted while queued.
		ix.done(id)

	case ctx.Err() != nil:
		// Shutting down; the entry stays pending for the next run.
		ix.done(id)

	case apperr.IsPermanentIndex(err):
		ix.fail(ctx, id, err)

	default:
		attempts, recErr := ix.store.RecordIndexAttempt(ctx, id)
		if recErr != nil {
			ix.logger.Warn("indexer: record attempt failed", slog.Int64("id", id), slog.String("error", recErr.Error()))
			ix.done(id)
			return
		}
		if attempts >= ix.cfg.MaxRetries {
			ix.fail(ctx, id, fmt.Errorf("giving up after %d attempts: %w", attempts, err))
			return
		}
		ix.retry(id, attempts, err)
	}
}

func (ix *Indexer) fail(ctx context.Context, id int64, err error) {
	ix.done(id)
	if markErr := ix.store.MarkIndexFailed(ctx, id); markErr != nil {
		ix.logger.Warn("indexer: mark failed", slog.Int64("id", id), slog.String("error", markErr.Error()))
	}
	ix.logger.Warn("indexer: entry left unindexed", slog.Int64("id", id), slog.String("error", err.Error()))
	if ix.metrics != nil {
		ix.metrics.IndexFailuresTotal.WithLabelValues("permanent").Inc()
	}
	if ix.listener != nil {
		ix.listener.EntryIndexFailed(id, err)
	}
}

func (ix *Indexer) retry(id int64, attempt int, cause error) {
	ix.mu.Lock()
	bo, ok := ix.backoffs[id]
	if !ok {
		bo = &backoff.ExponentialBackOff{
			InitialInterval:     ix.cfg.InitialBackoff,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         ix.cfg.MaxBackoff,
		}
		bo.Reset()
		ix.backoffs[id] = bo
	}
	delay := bo.NextBackOff()
	ctx := ix.runCtx
	ix.mu.Unlock()

	if ix.metrics != nil {
		ix.metrics.IndexFailuresTotal.WithLabelValues("retry").Inc()
	}
	ix.logger.Debug("indexer: retry scheduled",
		slog.Int64("id", id),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()))

	time.AfterFunc(delay, func() {
		if ctx != nil && ctx.Err() != nil {
			ix.done(id)
			return
		}
		select {
		case ix.queue <- id:
		default:
			// Queue full; leave it to the rescan.
			ix.done(id)
		}
	})
}

func (ix *Indexer) done(id int64) {
	ix.mu.Lock()
	delete(ix.pending, id)
	delete(ix.backoffs, id)
	ix.setDepth()
	ix.mu.Unlock()
}

func (ix *Indexer) setDepth() {
	if ix.metrics != nil {
		ix.metrics.IndexQueueDepth.Set(float64(len(ix.pending)))
	}
}

// IndexOnce embeds entry id and adds it to the index, without retries.
// Errors are IndexErrors, except ErrNotFound for a deleted entry.
func (ix *Indexer) IndexOnce(ctx context.Context, id int64) error {
	_, err := ix.indexOnce(ctx, id)
	return err
}

func (ix *Indexer) indexOnce(ctx context.Context, id int64) (bool, error) {
	e, err := ix.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e.IndexState == models.IndexIndexed && ix.index.Has(id) {
		return false, nil
	}

	start := time.Now()
	vec, err := ix.embedder.Embed(ctx, e.Content)
	if ix.metrics != nil {
		ix.metrics.EmbedDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return false, &apperr.IndexError{EntryID: id, Permanent: errors.Is(err, embedding.ErrEmptyInput), Err: err}
	}
	if embedding.Norm(vec) == 0 {
		return false, &apperr.IndexError{EntryID: id, Permanent: true, Err: errors.New("zero vector")}
	}

	model := ix.embedder.Model()
	err = ix.index.Add(ctx, id, vec, func() error {
		return ix.store.SaveEmbedding(ctx, id, model, vec)
	})
	return err == nil, err
}

// Rescan re-enqueues entries still waiting for an embedding and drops
// vectors whose entries no longer exist. It returns the number of entries
// enqueued.
func (ix *Indexer) Rescan(ctx context.Context) (int, error) {
	if err := ix.pruneVanished(ctx); err != nil {
		return 0, err
	}

	enqueued := 0
	var after int64
	for {
		ids, err := ix.store.PendingEmbeddings(ctx, after, ix.cfg.RescanBatch)
		if err != nil {
			return enqueued, err
		}
		for _, id := range ids {
			if !ix.Enqueue(id) {
				ix.logger.Debug("indexer: queue full, rescan paused", slog.Int("enqueued", enqueued))
				return enqueued, nil
			}
			enqueued++
		}
		if len(ids) < ix.cfg.RescanBatch {
			break
		}
		after = ids[len(ids)-1]
	}
	if enqueued > 0 {
		ix.logger.Info("indexer: rescan enqueued pending entries", slog.Int("count", enqueued))
	}
	return enqueued, nil
}

func (ix *Indexer) pruneVanished(ctx context.Context) error {
	ids := ix.index.IDs()
	if len(ids) == 0 {
		return nil
	}
	existing, err := ix.store.Existing(ctx, ids)
	if err != nil {
		return err
	}
	var stale []int64
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	ix.logger.Info("indexer: dropping vectors of deleted entries", slog.Int("count", len(stale)))
	return ix.index.Remove(ctx, stale...)
}
