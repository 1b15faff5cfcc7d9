// Package service is the command surface shared by the CLI, the HTTP API and
// the MCP server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/events"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/privacy"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
	"github.com/starford/mnemo/internal/vectorindex"
)

// Search statuses.
const (
	StatusOK        = "ok"
	StatusNoResults = "no_results"
	StatusFailed    = "failed"
)

// SearchResponse is the outcome of a search. Status distinguishes an empty
// result from a failed search.
type SearchResponse struct {
	Status  string             `json:"status"`
	Query   retrieval.Query    `json:"query"`
	Results []retrieval.Result `json:"results"`
	Error   string             `json:"error,omitempty"`
}

// Stats extends the storage statistics with index state.
type Stats struct {
	*store.Stats
	IndexSize    int  `json:"index_size"`
	IndexBacklog int  `json:"index_backlog"`
	Semantic     bool `json:"semantic"`
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(typ string, data any)
	PublishEntryEvent(kind string, data events.EntryData)
}

// Service coordinates capture, retrieval, answering and configuration.
type Service struct {
	db       store.Repository
	settings *settings.Store
	pipeline *capture.Pipeline
	engine   *retrieval.Engine
	composer *answer.Composer
	index    *vectorindex.Index
	indexer  *vectorindex.Indexer
	pub      Publisher
	logger   *slog.Logger
}

// Deps are the components a Service is built from. Index, Indexer, Composer
// and Publisher are optional.
type Deps struct {
	DB        store.Repository
	Settings  *settings.Store
	Pipeline  *capture.Pipeline
	Engine    *retrieval.Engine
	Composer  *answer.Composer
	Index     *vectorindex.Index
	Indexer   *vectorindex.Indexer
	Publisher Publisher
	Logger    *slog.Logger
}

// New creates a service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       d.DB,
		settings: d.Settings,
		pipeline: d.Pipeline,
		engine:   d.Engine,
		composer: d.Composer,
		index:    d.Index,
		indexer:  d.Indexer,
		pub:      d.Publisher,
		logger:   logger,
	}
}

// Capture stores one activity event. It never fails; see capture.Outcome.
func (s *Service) Capture(ctx context.Context, ev capture.Event) capture.Outcome {
	return s.pipeline.Capture(ctx, ev)
}

// Search runs q. The returned error is non-nil exactly when Status is failed.
func (s *Service) Search(ctx context.Context, q retrieval.Query) (*SearchResponse, error) {
	resp := &SearchResponse{Query: q, Results: []retrieval.Result{}}
	if strings.TrimSpace(q.Text) == "" {
		resp.Status = StatusFailed
		resp.Error = "query is empty"
		return resp, fmt.Errorf("search: empty query: %w", apperr.ErrInvalidInput)
	}
	results, err := s.engine.Search(ctx, q)
	if err != nil {
		resp.Status = StatusFailed
		resp.Error = err.Error()
		return resp, err
	}
	if len(results) == 0 {
		resp.Status = StatusNoResults
	} else {
		resp.Status = StatusOK
		resp.Results = results
	}
	if s.pub != nil {
		s.pub.Publish(events.SearchPerformed, map[string]any{
			"mode":    q.Mode,
			"status":  resp.Status,
			"results": len(resp.Results),
		})
	}
	return resp, nil
}

// ErrAskUnavailable is returned by Ask when no language model is configured.
var ErrAskUnavailable = errors.New("ask: no language model configured")

// Ask answers a question from the history.
func (s *Service) Ask(ctx context.Context, question string, opts ...answer.AskOption) (*answer.Answer, error) {
	if s.composer == nil {
		return nil, ErrAskUnavailable
	}
	ans, err := s.composer.Ask(ctx, question, opts...)
	if err != nil {
		return nil, err
	}
	if s.pub != nil {
		s.pub.Publish(events.AskAnswered, map[string]any{
			"used_entries": ans.UsedEntries,
			"degraded":     ans.Degraded,
		})
	}
	return ans, nil
}

// GetEntry returns one entry.
func (s *Service) GetEntry(ctx context.Context, id int64) (*models.Entry, error) {
	return s.db.Get(ctx, id)
}

// ListEntries returns entries newest first.
func (s *Service) ListEntries(ctx context.Context, f store.ListFilter) ([]models.Entry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	entries, err := s.db.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

// CleanData deletes every entry, or only those captured before *before, and
// their vectors. It returns the number of entries removed.
func (s *Service) CleanData(ctx context.Context, before *time.Time) (int, error) {
	var (
		ids []int64
		err error
	)
	if before == nil {
		ids, err = s.db.DeleteAll(ctx)
	} else {
		ids, err = s.db.DeleteBefore(ctx, *before)
	}
	if err != nil {
		return 0, err
	}
	// Only the deleted ids are dropped: entries captured while the wipe ran
	// keep their vectors.
	if s.index != nil && len(ids) > 0 {
		if err := s.index.Remove(ctx, ids...); err != nil {
			s.logger.Warn("clean: remove vectors", slog.String("error", err.Error()))
		}
	}
	if s.pub != nil && len(ids) > 0 {
		s.pub.PublishEntryEvent(events.EntryDeleted, events.EntryData{IDs: ids})
	}
	s.logger.Info("clean: entries deleted", slog.Int("count", len(ids)), slog.Bool("all", before == nil))
	return len(ids), nil
}

// Stats reports storage and index statistics.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: st, Semantic: s.index != nil}
	if s.index != nil {
		out.IndexSize = s.index.Len()
	}
	if s.indexer != nil {
		out.IndexBacklog = s.indexer.Backlog()
	}
	return out, nil
}

// Maintain runs a full retention sweep, re-enqueues pending embeddings and
// optimizes the database.
func (s *Service) Maintain(ctx context.Context) error {
	var errs []error
	if n, err := s.pipeline.Sweep(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	} else if n > 0 {
		s.logger.Info("maintain: evicted entries", slog.Int("count", n))
	}
	if s.indexer != nil {
		if _, err := s.indexer.Rescan(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rescan: %w", err))
		}
	}
	if err := s.db.Optimize(ctx); err != nil {
		errs = append(errs, fmt.Errorf("optimize: %w", err))
	}
	return errors.Join(errs...)
}

// RetryFailed returns entries that exhausted their indexing retries to the
// pending state. The indexer's next rescan picks them up.
func (s *Service) RetryFailed(ctx context.Context) (int64, error) {
	n, err := s.db.RequeueFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.indexer != nil {
		if _, err := s.indexer.Rescan(ctx); err != nil {
			s.logger.Warn("retry failed: rescan", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// Ready reports whether the service can handle requests.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetPrivacyConfig returns the active privacy rules.
func (s *Service) GetPrivacyConfig() privacy.Config {
	return s.settings.Snapshot().Privacy.Clone()
}

// SavePrivacyConfig replaces the privacy rules.
func (s *Service) SavePrivacyConfig(cfg privacy.Config) (privacy.Config, error) {
	snap, err := s.settings.UpdatePrivacy(cfg)
	if err != nil {
		return privacy.Config{}, err
	}
	return snap.Privacy.Clone(), nil
}

// AddPrivacyRule adds one rule.
func (s *Service) AddPrivacyRule(category, pattern string) (privacy.Config, error) {
	cat, err := privacy.ParseCategory(category)
	if err != nil {
		return privacy.Config{}, apperr.NewConfigError("privacy", err)
	}
	snap, err := s.settings.AddPrivacyRule(cat, pattern)
	if err != nil {
		return privacy.Config{}, err
	}
	return snap.Privacy.Clone(), nil
}

// RemovePrivacyRule removes one rule.
func (s *Service) RemovePrivacyRule(category, pattern string) (privacy.Config, error) {
	cat, err := privacy.ParseCategory(category)
	if err != nil {
		return privacy.Config{}, apperr.NewConfigError("privacy", err)
	}
	snap, err := s.settings.RemovePrivacyRule(cat, pattern)
	if err != nil {
		return privacy.Config{}, err
	}
	return snap.Privacy.Clone(), nil
}

// GetSettings returns the capture settings.
func (s *Service) GetSettings() settings.Settings {
	return s.settings.Snapshot().Settings
}

// SaveSettings replaces the capture settings.
func (s *Service) SaveSettings(v settings.Settings) (settings.Settings, error) {
	snap, err := s.settings.UpdateSettings(v)
	if err != nil {
		return settings.Settings{}, err
	}
	return snap.Settings, nil
}

// GetSearchConfig returns the search configuration.
func (s *Service) GetSearchConfig() settings.SearchConfig {
	return s.settings.Snapshot().Search
}

// SaveSearchConfig replaces the search configuration.
func (s *Service) SaveSearchConfig(v settings.SearchConfig) (settings.SearchConfig, error) {
	snap, err := s.settings.UpdateSearch(v)
	if err != nil {
		return settings.SearchConfig{}, err
	}
	return snap.Search, nil
}

// GetLLMConfig returns the language model configuration.
func (s *Service) GetLLMConfig() settings.LLMConfig {
	return s.settings.Snapshot().LLM
}

// SaveLLMConfig replaces the language model configuration. An empty API key
// keeps the current one, since keys are never sent back to clients.
func (s *Service) SaveLLMConfig(v settings.LLMConfig) (settings.LLMConfig, error) {
	if v.APIKey == "" {
		v.APIKey = s.settings.Snapshot().LLM.APIKey
	}
	snap, err := s.settings.UpdateLLM(v)
	if err != nil {
		return settings.LLMConfig{}, err
	}
	return snap.LLM, nil
}
