package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/llm"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/testutil"
)

type stubSearcher struct {
	results []retrieval.Result
	err     error
	got     retrieval.Query
}

func (s *stubSearcher) Search(_ context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	s.got = q
	return s.results, s.err
}

func entry(id int64, content string) retrieval.Result {
	return retrieval.Result{Entry: models.Entry{
		ID:        id,
		Content:   content,
		Source:    models.SourceShell,
		Timestamp: time.Date(2024, 5, 2, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
		Context:   models.Context{Cwd: "/home/u"},
	}, Score: 0.8, Match: retrieval.ModeSemantic}
}

func newComposer(t *testing.T, s Searcher, r Resolver, mutate func(*settings.LLMConfig)) *Composer {
	t.Helper()
	prefs := settings.DefaultPreferences()
	if mutate != nil {
		mutate(&prefs.LLM)
	}
	return New(settings.NewStore(prefs, nil, testutil.Logger()), s, r, testutil.Logger(), nil)
}

func TestAsk_Answered(t *testing.T) {
	s := &stubSearcher{results: []retrieval.Result{entry(7, "ssh user@staging.example.com")}}
	fake := testutil.NewFakeLLM("  Use ssh user@staging.example.com  ")
	c := newComposer(t, s, fake, nil)

	ans, err := c.Ask(context.Background(), "how do I reach staging?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Degraded || ans.Text != "Use ssh user@staging.example.com" {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.UsedEntries) != 1 || ans.UsedEntries[0] != 7 {
		t.Errorf("used entries = %v", ans.UsedEntries)
	}
	if s.got.Mode != retrieval.ModeAuto || s.got.Limit != 10 {
		t.Errorf("retrieval query = %+v", s.got)
	}

	reqs := fake.Requests()
	if len(reqs) != 1 {
		t.Fatalf("LLM calls = %d", len(reqs))
	}
	p := reqs[0].Prompt
	for _, want := range []string{"[1]", "source=shell", "time=2024-05-02T07:30:00Z", "cwd=/home/u", "ssh user@staging.example.com", "how do I reach staging?"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
	if reqs[0].Model != "qwen2.5:3b" || reqs[0].MaxTokens != 500 || reqs[0].System == "" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestAsk_ScopedRetrieval(t *testing.T) {
	s := &stubSearcher{results: []retrieval.Result{entry(3, "make test")}}
	c := newComposer(t, s, testutil.NewFakeLLM("Run make test."), nil)
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	if _, err := c.Ask(context.Background(), "how did I run the tests?", WithCwd("/home/u/proj"), WithWindow(since, until)); err != nil {
		t.Fatal(err)
	}
	if s.got.Cwd != "/home/u/proj" || !s.got.Since.Equal(since) || !s.got.Until.Equal(until) {
		t.Errorf("retrieval query = %+v", s.got)
	}
	if s.got.Mode != retrieval.ModeAuto || s.got.Text != "how did I run the tests?" {
		t.Errorf("retrieval query = %+v", s.got)
	}
}

func TestAsk_NoHistorySkipsModel(t *testing.T) {
	fake := testutil.NewFakeLLM("should not be used")
	c := newComposer(t, &stubSearcher{}, fake, nil)

	ans, err := c.Ask(context.Background(), "what did I do yesterday?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != NoHistory || len(ans.UsedEntries) != 0 || ans.Degraded {
		t.Errorf("answer = %+v", ans)
	}
	if len(fake.Requests()) != 0 {
		t.Error("model must not be called without history")
	}
}

func TestAsk_DegradesOnModelError(t *testing.T) {
	fake := testutil.NewFakeLLM("")
	fake.Script("", errors.New("connection refused"), 0)
	c := newComposer(t, &stubSearcher{results: []retrieval.Result{entry(1, "make deploy")}}, fake, nil)

	ans, err := c.Ask(context.Background(), "how do I deploy?")
	if err != nil {
		t.Fatalf("model errors must not fail Ask: %v", err)
	}
	if !ans.Degraded || !strings.Contains(ans.Text, "make deploy") || ans.ProviderError == "" {
		t.Errorf("answer = %+v", ans)
	}
}

func TestAsk_DegradesOnEmptyOutput(t *testing.T) {
	fake := testutil.NewFakeLLM("   ")
	c := newComposer(t, &stubSearcher{results: []retrieval.Result{entry(1, "make deploy")}}, fake, nil)

	ans, err := c.Ask(context.Background(), "how do I deploy?")
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Degraded {
		t.Errorf("empty model output should degrade: %+v", ans)
	}
}

func TestAsk_DegradesOnTimeout(t *testing.T) {
	fake := testutil.NewFakeLLM("")
	fake.Script("late", nil, time.Second)
	c := newComposer(t, &stubSearcher{results: []retrieval.Result{entry(1, "make deploy")}}, fake,
		func(cfg *settings.LLMConfig) { cfg.Timeout = 20 * time.Millisecond })

	start := time.Now()
	ans, err := c.Ask(context.Background(), "how do I deploy?")
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Degraded || !strings.Contains(ans.ProviderError, "timed out") {
		t.Errorf("answer = %+v", ans)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout not honoured")
	}
}

type failingResolver struct{}

func (failingResolver) Provider(settings.LLMConfig) (llm.Provider, error) {
	return nil, errors.New("unknown provider")
}

func TestAsk_DegradesWhenProviderCannotBeBuilt(t *testing.T) {
	c := newComposer(t, &stubSearcher{results: []retrieval.Result{entry(1, "ls")}}, failingResolver{}, nil)
	ans, err := c.Ask(context.Background(), "what did I list?")
	if err != nil || !ans.Degraded {
		t.Errorf("answer = %+v, err = %v", ans, err)
	}
}

func TestAsk_RetrievalErrorIsReturned(t *testing.T) {
	c := newComposer(t, &stubSearcher{err: errors.New("db gone")}, testutil.NewFakeLLM("x"), nil)
	if _, err := c.Ask(context.Background(), "anything"); err == nil {
		t.Error("retrieval failure should be returned")
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	c := newComposer(t, &stubSearcher{}, testutil.NewFakeLLM("x"), nil)
	if _, err := c.Ask(context.Background(), "   "); err == nil {
		t.Error("empty question should fail")
	}
}
