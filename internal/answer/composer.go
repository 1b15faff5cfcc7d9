// Package answer composes natural-language answers grounded in retrieved
// history entries.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/llm"
	"github.com/starford/mnemo/internal/metrics"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/settings"
)

// NoHistory is the answer given when nothing relevant was found.
const NoHistory = "No relevant history found."

const systemPrompt = `You answer questions about the user's own command-line and clipboard history.
Use only the numbered history entries provided. If they do not contain the answer, say so.
Quote commands exactly as they appear. Be brief.`

// Answer is the result of Ask.
type Answer struct {
	Text          string         `json:"answer"`
	UsedEntries   []int64        `json:"used_entries"`
	Entries       []models.Entry `json:"entries"`
	Degraded      bool           `json:"degraded"`
	ProviderError string         `json:"provider_error,omitempty"`
}

// Searcher retrieves context entries.
type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
}

// Resolver returns the LLM client for a configuration.
type Resolver interface {
	Provider(cfg settings.LLMConfig) (llm.Provider, error)
}

// Composer answers questions.
type Composer struct {
	settings *settings.Store
	search   Searcher
	llms     Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a composer.
func New(st *settings.Store, search Searcher, llms Resolver, logger *slog.Logger, m *metrics.Metrics) *Composer {
	return &Composer{settings: st, search: search, llms: llms, logger: logger, metrics: m}
}

// AskOption narrows the history an answer draws on.
type AskOption func(*retrieval.Query)

// WithCwd ranks entries captured in or near dir first.
func WithCwd(dir string) AskOption { return func(q *retrieval.Query) { q.Cwd = dir } }

// WithWindow restricts context entries to [since, until). Zero bounds are open.
func WithWindow(since, until time.Time) AskOption {
	return func(q *retrieval.Query) {
		q.Since = since
		q.Until = until
	}
}

// Ask answers question from the history. Retrieval failures are returned;
// model failures degrade the answer to the raw entries.
func (c *Composer) Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("answer: empty question: %w", apperr.ErrInvalidInput)
	}
	snap := c.settings.Snapshot()
	cfg := snap.LLM

	q := retrieval.Query{
		Text:  question,
		Mode:  retrieval.ModeAuto,
		Limit: cfg.MaxHistoryResults,
	}
	for _, o := range opts {
		o(&q)
	}
	results, err := c.search.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("answer: retrieve: %w", err)
	}
	if len(results) == 0 {
		c.count("empty")
		return &Answer{Text: NoHistory, UsedEntries: []int64{}, Entries: []models.Entry{}}, nil
	}

	ans := &Answer{
		UsedEntries: make([]int64, len(results)),
		Entries:     make([]models.Entry, len(results)),
	}
	for i, r := range results {
		ans.UsedEntries[i] = r.Entry.ID
		ans.Entries[i] = r.Entry
	}

	text, err := c.generate(ctx, cfg, BuildPrompt(question, ans.Entries))
	if err != nil {
		c.logger.Warn("answer: model unavailable, returning raw entries", slog.String("error", err.Error()))
		ans.Degraded = true
		ans.ProviderError = err.Error()
		ans.Text = RawAnswer(ans.Entries)
		c.count("degraded")
		return ans, nil
	}
	ans.Text = text
	c.count("answered")
	return ans, nil
}

func (c *Composer) generate(ctx context.Context, cfg settings.LLMConfig, prompt string) (string, error) {
	p, err := c.llms.Provider(cfg)
	if err != nil {
		return "", &apperr.ProviderError{Provider: cfg.Provider, Err: err}
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.Generate(ctx, llm.RequestFrom(cfg, systemPrompt, prompt))
	if c.metrics != nil {
		c.metrics.LLMDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &apperr.ProviderError{Provider: p.Name(), Err: fmt.Errorf("timed out after %s", cfg.Timeout)}
		}
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", &apperr.ProviderError{Provider: p.Name(), Err: llm.ErrEmptyOutput}
	}
	return strings.TrimSpace(out), nil
}

func (c *Composer) count(status string) {
	if c.metrics != nil {
		c.metrics.AnswersTotal.WithLabelValues(status).Inc()
	}
}

// BuildPrompt renders question and the numbered context entries.
func BuildPrompt(question string, entries []models.Entry) string {
	var b strings.Builder
	b.WriteString("History entries:\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "[%d] source=%s time=%s", i+1, e.Source, e.Timestamp.UTC().Format(time.RFC3339))
		if e.Context.Cwd != "" {
			fmt.Fprintf(&b, " cwd=%s", e.Context.Cwd)
		}
		if e.Context.Path != "" {
			fmt.Fprintf(&b, " path=%s", e.Context.Path)
		}
		fmt.Fprintf(&b, "\n%s\n\n", e.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer using only the entries above.")
	return b.String()
}

// RawAnswer lists entries as a fallback when no model answer is available.
func RawAnswer(entries []models.Entry) string {
	var b strings.Builder
	b.WriteString("The language model is unavailable. Relevant history:\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. [%s %s] %s\n", i+1, e.Source, e.Timestamp.UTC().Format(time.RFC3339), e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
