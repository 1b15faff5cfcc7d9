// Package clipwatch polls the system clipboard and captures new contents.
package clipwatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/atotto/clipboard"
	"golang.org/x/time/rate"

	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/checksum"
	"github.com/starford/mnemo/internal/models"
)

// Config controls clipboard polling.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the clipboard defaults.
func DefaultConfig() Config {
	return Config{Enabled: false, Interval: time.Second}
}

// Capturer stores captured events.
type Capturer interface {
	Capture(ctx context.Context, ev capture.Event) capture.Outcome
}

// ReadFunc returns the current clipboard text.
type ReadFunc func() (string, error)

// Watcher captures clipboard changes.
type Watcher struct {
	interval time.Duration
	read     ReadFunc
	capt     Capturer
	logger   *slog.Logger
	readErrs rate.Sometimes

	last string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithReader replaces the system clipboard reader.
func WithReader(fn ReadFunc) Option { return func(w *Watcher) { w.read = fn } }

// New creates a watcher.
func New(cfg Config, capt Capturer, logger *slog.Logger, opts ...Option) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	w := &Watcher{
		interval: cfg.Interval,
		read:     clipboard.ReadAll,
		capt:     capt,
		logger:   logger,
		readErrs: rate.Sometimes{Interval: time.Minute},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls until ctx is cancelled. Whatever is on the clipboard when Run
// starts is treated as already seen.
func (w *Watcher) Run(ctx context.Context) error {
	if text, err := w.read(); err == nil {
		w.last = checksum.String(text)
	}
	w.logger.Info("clipwatch: started", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll reads the clipboard once and captures it if it changed. It reports
// whether a capture was attempted.
func (w *Watcher) Poll(ctx context.Context) bool {
	text, err := w.read()
	if err != nil {
		w.readErrs.Do(func() {
			w.logger.Warn("clipwatch: read clipboard", slog.String("error", err.Error()))
		})
		return false
	}
	sum := checksum.String(text)
	if sum == w.last {
		return false
	}
	w.last = sum

	out := w.capt.Capture(ctx, capture.Event{
		Content:   text,
		Source:    models.SourceClipboard,
		Timestamp: time.Now(),
	})
	if out.Status == capture.StatusFailed {
		w.logger.Warn("clipwatch: capture failed", slog.String("reason", out.Reason))
	}
	return true
}
