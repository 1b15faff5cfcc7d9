// Package capture turns raw activity events into stored entries.
//
// The synchronous path is kept short: toggle check, privacy filter, a
// durable append and a non-blocking hand-off to the indexer. Work that can
// wait (large eviction backlogs, embeddings) happens in the background.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/mnemo/internal/events"
	"github.com/starford/mnemo/internal/metrics"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/settings"
)

// Status is the result class of a capture.
type Status string

const (
	StatusStored   Status = "stored"
	StatusDropped  Status = "dropped"
	StatusDisabled Status = "disabled"
	StatusFailed   Status = "failed"
)

// Drop reasons that are not privacy categories.
const (
	ReasonEmpty   = "empty"
	ReasonTimeout = "timeout"
)

// Event is one piece of captured activity.
type Event struct {
	Content   string            `json:"content"`
	Source    models.SourceType `json:"source_type"`
	Context   models.Context    `json:"context"`
	Timestamp time.Time         `json:"timestamp"`
}

// Outcome reports what happened to an Event.
type Outcome struct {
	Status Status `json:"status"`
	ID     int64  `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Store is the storage the pipeline writes to.
type Store interface {
	Append(ctx context.Context, e *models.Entry) (int64, error)
	EvictOverLimit(ctx context.Context, src models.SourceType, limit, batch int) ([]int64, error)
}

// Index drops vectors of evicted entries.
type Index interface {
	Remove(ctx context.Context, ids ...int64) error
}

// Queue accepts new entries for embedding.
type Queue interface {
	Enqueue(id int64) bool
	Backlog() int
}

// Publisher receives entry lifecycle events.
type Publisher interface {
	PublishEntryEvent(kind string, data events.EntryData)
}

// Config tunes the capture path.
type Config struct {
	Timeout    time.Duration `yaml:"timeout"`
	EvictBatch int           `yaml:"evict_batch"`
	HighWater  int           `yaml:"high_water"`
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    50 * time.Millisecond,
		EvictBatch: 100,
		HighWater:  10000,
	}
}

// Pipeline implements the capture path.
type Pipeline struct {
	cfg      Config
	settings *settings.Store
	store    Store
	index    Index
	queue    Queue
	pub      Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	backpressure rate.Sometimes
	sweepCh      chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIndex removes evicted entries from idx.
func WithIndex(idx Index) Option { return func(p *Pipeline) { p.index = idx } }

// WithQueue hands stored entries to q for embedding.
func WithQueue(q Queue) Option { return func(p *Pipeline) { p.queue = q } }

// WithPublisher emits lifecycle events to pub.
func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.pub = pub } }

// WithMetrics records capture metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// New creates a pipeline. Without a queue, stored entries stay pending until
// a running indexer rescans them.
func New(cfg Config, st *settings.Store, store Store, logger *slog.Logger, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.EvictBatch <= 0 {
		cfg.EvictBatch = def.EvictBatch
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = def.HighWater
	}
	p := &Pipeline{
		cfg:          cfg,
		settings:     st,
		store:        store,
		logger:       logger,
		backpressure: rate.Sometimes{Interval: 10 * time.Second},
		sweepCh:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capture runs ev through the pipeline. It never returns an error: failures
// are reported in the Outcome.
func (p *Pipeline) Capture(ctx context.Context, ev Event) Outcome {
	start := time.Now()
	out := p.capture(ctx, ev)
	if p.metrics != nil {
		p.metrics.CapturesTotal.WithLabelValues(string(ev.Source), string(out.Status)).Inc()
		p.metrics.CaptureDuration.Observe(time.Since(start).Seconds())
	}
	return out
}

func (p *Pipeline) capture(ctx context.Context, ev Event) Outcome {
	if !ev.Source.Valid() {
		return Outcome{Status: StatusFailed, Reason: fmt.Sprintf("unknown source %q", ev.Source)}
	}
	snap := p.settings.Snapshot()

	if !snap.Enabled(ev.Source) {
		return Outcome{Status: StatusDisabled}
	}
	if strings.TrimSpace(ev.Content) == "" {
		p.dropped(ev, ReasonEmpty)
		return Outcome{Status: StatusDropped, Reason: ReasonEmpty}
	}
	if d := snap.Rules.Evaluate(ev.Content, ev.Source, ev.Context); d.Dropped() {
		p.logger.Debug("capture: dropped by privacy rule",
			slog.String("source", string(ev.Source)),
			slog.String("category", string(d.Category)))
		p.dropped(ev, string(d.Category))
		return Outcome{Status: StatusDropped, Reason: string(d.Category)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("capture: panic in write path", slog.Any("panic", r))
				done <- Outcome{Status: StatusFailed, Reason: fmt.Sprint(r)}
			}
		}()
		done <- p.write(ctx, ev, snap.Settings.Limit(ev.Source))
	}()

	select {
	case out := <-done:
		if out.Status == StatusFailed && ctx.Err() != nil {
			out.Reason = ReasonTimeout
		}
		return out
	case <-ctx.Done():
		p.logger.Warn("capture: write did not finish in time",
			slog.String("source", string(ev.Source)),
			slog.Duration("timeout", p.cfg.Timeout))
		return Outcome{Status: StatusFailed, Reason: ReasonTimeout}
	}
}

func (p *Pipeline) write(ctx context.Context, ev Event, limit int) Outcome {
	entry := &models.Entry{
		Content:   ev.Content,
		Source:    ev.Source,
		Timestamp: ev.Timestamp,
		Context:   ev.Context,
	}
	id, err := p.store.Append(ctx, entry)
	if err != nil {
		p.logger.Error("capture: append failed", slog.String("source", string(ev.Source)), slog.String("error", err.Error()))
		return Outcome{Status: StatusFailed, Reason: err.Error()}
	}
	if p.pub != nil {
		p.pub.PublishEntryEvent(events.EntryStored, events.EntryData{IDs: []int64{id}, Source: string(ev.Source)})
	}

	evicted, err := p.store.EvictOverLimit(ctx, ev.Source, limit, p.cfg.EvictBatch)
	if err != nil {
		// The entry is stored; the sweeper will retry the eviction.
		p.logger.Warn("capture: eviction failed", slog.String("error", err.Error()))
		p.requestSweep()
	} else {
		p.evicted(ctx, ev.Source, evicted)
		if len(evicted) == p.cfg.EvictBatch {
			p.requestSweep()
		}
	}

	p.enqueue(id)
	return Outcome{Status: StatusStored, ID: id}
}

func (p *Pipeline) evicted(ctx context.Context, src models.SourceType, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if p.index != nil {
		if err := p.index.Remove(ctx, ids...); err != nil {
			// The indexer's rescan prunes vectors of deleted entries.
			p.logger.Warn("capture: remove evicted vectors", slog.String("error", err.Error()))
		}
	}
	if p.metrics != nil {
		p.metrics.EvictionsTotal.WithLabelValues(string(src)).Add(float64(len(ids)))
	}
	if p.pub != nil {
		p.pub.PublishEntryEvent(events.EntryEvicted, events.EntryData{IDs: ids, Source: string(src)})
	}
}

func (p *Pipeline) enqueue(id int64) {
	if p.queue == nil {
		return
	}
	accepted := p.queue.Enqueue(id)
	if backlog := p.queue.Backlog(); !accepted || backlog > p.cfg.HighWater {
		p.backpressure.Do(func() {
			p.logger.Warn("capture: index backlog, entries will be picked up by rescan",
				slog.Bool("accepted", accepted),
				slog.Int("backlog", backlog),
				slog.Int("high_water", p.cfg.HighWater))
		})
	}
}

func (p *Pipeline) dropped(ev Event, reason string) {
	if p.pub != nil {
		p.pub.PublishEntryEvent(events.EntryDropped, events.EntryData{Source: string(ev.Source), Reason: reason})
	}
}

func (p *Pipeline) requestSweep() {
	select {
	case p.sweepCh <- struct{}{}:
	default:
	}
}

// Sweep evicts every entry beyond its source limit. It returns the number of
// entries removed.
func (p *Pipeline) Sweep(ctx context.Context) (int, error) {
	snap := p.settings.Snapshot()
	total := 0
	for _, src := range models.SourceTypes {
		limit := snap.Settings.Limit(src)
		if limit <= 0 {
			continue
		}
		for {
			ids, err := p.store.EvictOverLimit(ctx, src, limit, p.cfg.EvictBatch)
			if err != nil {
				return total, err
			}
			p.evicted(ctx, src, ids)
			total += len(ids)
			if len(ids) < p.cfg.EvictBatch {
				break
			}
		}
	}
	if total > 0 {
		p.logger.Info("capture: sweep evicted entries", slog.Int("count", total))
	}
	return total, nil
}

// RunSweeper evicts large backlogs that the capture path left behind, until
// ctx is cancelled.
func (p *Pipeline) RunSweeper(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.sweepCh:
			if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("capture: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
