// Package maintenance runs periodic housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config controls the maintenance schedule.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// DefaultConfig runs maintenance daily at 03:00 local time.
func DefaultConfig() Config {
	return Config{Enabled: true, Schedule: "0 3 * * *"}
}

// Validate checks the cron expression.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Schedule, validation.When(c.Enabled, validation.Required, validation.By(validCron))),
	)
}

func validCron(v any) error {
	expr, _ := v.(string)
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// Task is one maintenance run.
type Task func(ctx context.Context) error

// Scheduler runs a Task at every tick of a cron expression.
type Scheduler struct {
	expr   string
	task   Task
	logger *slog.Logger
	next   func(time.Time) (time.Time, error)
}

// New creates a scheduler for expr.
func New(expr string, task Task, logger *slog.Logger) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("maintenance: invalid cron expression %q", expr)
	}
	s := &Scheduler{expr: expr, task: task, logger: logger}
	s.next = func(t time.Time) (time.Time, error) {
		return gronx.NextTickAfter(expr, t, false)
	}
	return s, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return s.next(t)
}

// Run waits for each tick and runs the task until ctx is cancelled. Task
// errors are logged; the schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := time.Now()
		at, err := s.next(now)
		if err != nil {
			return fmt.Errorf("maintenance: next tick: %w", err)
		}
		s.logger.Debug("maintenance: next run", slog.Time("at", at))

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		start := time.Now()
		if err := s.task(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("maintenance: run failed", slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("maintenance: run complete", slog.Duration("took", time.Since(start)))
	}
}
