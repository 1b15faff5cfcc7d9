package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/events"
	"github.com/starford/mnemo/internal/llm"
	"github.com/starford/mnemo/internal/metrics"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
	"github.com/starford/mnemo/internal/vectorindex"
)

// Core is the wired set of components behind every entry point: the HTTP
// server, the MCP server and one-shot CLI commands.
type Core struct {
	Config     *Config
	ConfigPath string
	Logger     *slog.Logger

	DB       *store.DB
	Settings *settings.Store
	Broker   *events.Broker
	Metrics  *metrics.Metrics
	Embedder embedding.Provider
	Index    *vectorindex.Index
	Indexer  *vectorindex.Indexer
	Pipeline *capture.Pipeline
	Engine   *retrieval.Engine
	Composer *answer.Composer
	Service  *service.Service
}

// NewLogger returns the JSON logger used by every entry point. Logs go to
// stderr so stdout stays free for command output and the MCP transport.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewCore opens the database and wires the components. When the embedder
// cannot be created, the core runs with literal search only.
func NewCore(ctx context.Context, opts ...Option) (*Core, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App.LogLevel)
	}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	c := &Core{
		Config:     cfg,
		ConfigPath: app.configPath,
		Logger:     logger,
		DB:         db,
		Broker:     events.NewBroker(cfg.Events.CorpusThrottle),
		Metrics:    metrics.NewMetrics(),
	}

	var persist settings.PersistFunc
	if app.configPath != "" {
		persist = PreferencesFile{Path: app.configPath}.Save
	}
	c.Settings = settings.NewStore(cfg.Preferences, persist, logger)

	if !app.literal {
		if err := c.initSemantic(ctx, app.embedder); err != nil {
			logger.Warn("semantic search disabled", slog.String("error", err.Error()))
			if c.Embedder != nil {
				_ = c.Embedder.Close()
			}
			c.Embedder, c.Index, c.Indexer = nil, nil, nil
		}
	}

	pipeOpts := []capture.Option{
		capture.WithPublisher(c.Broker),
		capture.WithMetrics(c.Metrics),
	}
	engineOpts := []retrieval.Option{retrieval.WithMetrics(c.Metrics)}
	if c.Indexer != nil {
		pipeOpts = append(pipeOpts, capture.WithIndex(c.Index), capture.WithQueue(c.Indexer))
		engineOpts = append(engineOpts, retrieval.WithSemantic(c.Index, c.Embedder))
	}
	c.Pipeline = capture.New(cfg.Capture, c.Settings, db, logger, pipeOpts...)
	c.Engine = retrieval.New(c.Settings, db, logger, engineOpts...)

	var llms answer.Resolver = llm.NewRegistry()
	if app.llms != nil {
		llms = app.llms
	}
	c.Composer = answer.New(c.Settings, c.Engine, llms, logger, c.Metrics)

	c.Service = service.New(service.Deps{
		DB:        db,
		Settings:  c.Settings,
		Pipeline:  c.Pipeline,
		Engine:    c.Engine,
		Composer:  c.Composer,
		Index:     c.Index,
		Indexer:   c.Indexer,
		Publisher: c.Broker,
		Logger:    logger,
	})
	return c, nil
}

// initSemantic builds the embedder, drops vectors from another model and
// loads the rest into the in-memory index.
func (c *Core) initSemantic(ctx context.Context, embedder embedding.Provider) error {
	if embedder == nil {
		p, err := embedding.New(c.Config.Embedding)
		if err != nil {
			return err
		}
		embedder = p
	}
	c.Embedder = embedder

	n, err := c.DB.InvalidateEmbeddings(ctx, embedder.Model())
	if err != nil {
		return err
	}
	if n > 0 {
		c.Logger.Info("embedding model changed, entries queued for re-indexing",
			slog.String("model", embedder.Model()), slog.Int64("count", n))
	}

	c.Index = vectorindex.New()
	loaded, skipped, err := c.Index.Load(ctx, c.DB)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	c.Metrics.IndexSize.Set(float64(c.Index.Len()))
	c.Logger.Info("vector index loaded",
		slog.String("model", embedder.Model()),
		slog.Int("loaded", loaded),
		slog.Int("skipped", skipped))

	c.Indexer = vectorindex.NewIndexer(c.Config.Index, c.DB, c.Index, embedder, c.Logger,
		vectorindex.WithListener(c.Broker),
		vectorindex.WithMetrics(c.Metrics),
	)
	return nil
}

// Close releases the embedder, the event broker and the database.
func (c *Core) Close() error {
	var errs []error
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	c.Broker.Close()
	errs = append(errs, c.DB.Close())
	return errors.Join(errs...)
}
