package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/testutil"
)

func TestNew_RejectsInvalidExpression(t *testing.T) {
	if _, err := New("every day", func(context.Context) error { return nil }, testutil.Logger()); err == nil {
		t.Error("expected an error")
	}
}

func TestNext_Daily(t *testing.T) {
	s, err := New("0 3 * * *", func(context.Context) error { return nil }, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := s.Next(from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
}

func TestRun_KeepsGoingAfterFailures(t *testing.T) {
	var runs atomic.Int32
	s, _ := New("0 3 * * *", func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("disk busy")
		}
		return nil
	}, testutil.Logger())
	s.next = func(t time.Time) (time.Time, error) { return t.Add(5 * time.Millisecond), nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Schedule = "not a cron"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid expression should fail")
	}
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled schedule is not validated: %v", err)
	}
}
