// Package testutil provides shared test helpers for databases, embedders and
// language models.
package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/llm"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mnemo-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Eventually polls cond until it holds or the timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// ErrInjected is returned by Embedder while failures are armed.
var ErrInjected = errors.New("injected failure")

// Embedder is a deterministic hashing embedder whose next calls can be made
// to fail.
type Embedder struct {
	*embedding.Hashing

	mu    sync.Mutex
	fail  int
	calls int
}

// NewEmbedder returns an Embedder with dim buckets.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Hashing: embedding.NewHashing(dim)}
}

// FailNext makes the next n calls fail with a transient provider error.
// A negative n fails every call.
func (e *Embedder) FailNext(n int) {
	e.mu.Lock()
	e.fail = n
	e.mu.Unlock()
}

// Calls returns the number of Embed calls made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed implements embedding.Provider.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	failing := e.fail != 0
	if e.fail > 0 {
		e.fail--
	}
	e.mu.Unlock()
	if failing {
		return nil, &apperr.ProviderError{Provider: "test", Err: ErrInjected}
	}
	return e.Hashing.Embed(ctx, text)
}

// FakeLLM is a scripted llm.Provider. It also resolves itself for any
// configuration, so it can stand in for an llm.Registry.
type FakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	prompts []llm.Request
}

// NewFakeLLM returns a FakeLLM answering reply.
func NewFakeLLM(reply string) *FakeLLM {
	return &FakeLLM{reply: reply}
}

// Script changes the reply, error and delay of later calls.
func (f *FakeLLM) Script(reply string, err error, delay time.Duration) {
	f.mu.Lock()
	f.reply, f.err, f.delay = reply, err, delay
	f.mu.Unlock()
}

// Requests returns every request received so far.
func (f *FakeLLM) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.prompts...)
}

// Generate implements llm.Provider.
func (f *FakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	reply, err, delay := f.reply, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

// Name implements llm.Provider.
func (f *FakeLLM) Name() string { return "fake" }

// Provider implements the answer package's provider resolver.
func (f *FakeLLM) Provider(settings.LLMConfig) (llm.Provider, error) { return f, nil }
