package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/events"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/store"
	"github.com/starford/mnemo/internal/testutil"
)

type fakeQueue struct {
	mu   sync.Mutex
	ids  []int64
	full bool
}

func (q *fakeQueue) Enqueue(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

func (q *fakeQueue) Backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

type fakeIndex struct {
	mu      sync.Mutex
	removed []int64
}

func (x *fakeIndex) Remove(_ context.Context, ids ...int64) error {
	x.mu.Lock()
	x.removed = append(x.removed, ids...)
	x.mu.Unlock()
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *fakePublisher) PublishEntryEvent(kind string, _ events.EntryData) {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
}

type harness struct {
	p     *Pipeline
	db    *store.DB
	st    *settings.Store
	queue *fakeQueue
	index *fakeIndex
	pub   *fakePublisher
}

func newHarness(t *testing.T, mutate func(*settings.Preferences)) *harness {
	t.Helper()
	prefs := settings.DefaultPreferences()
	if mutate != nil {
		mutate(&prefs)
	}
	h := &harness{
		db:    testutil.TestDB(t),
		st:    settings.NewStore(prefs, nil, testutil.Logger()),
		queue: &fakeQueue{},
		index: &fakeIndex{},
		pub:   &fakePublisher{},
	}
	h.p = New(Config{Timeout: 5 * time.Second, EvictBatch: 2}, h.st, h.db, testutil.Logger(),
		WithQueue(h.queue), WithIndex(h.index), WithPublisher(h.pub))
	return h
}

func shell(content string) Event {
	return Event{Content: content, Source: models.SourceShell, Context: models.Context{Cwd: "/home/alice/src"}}
}

func TestCapture_Stored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out := h.p.Capture(ctx, shell("go test ./..."))
	if out.Status != StatusStored || out.ID == 0 {
		t.Fatalf("outcome = %+v", out)
	}
	e, err := h.db.Get(ctx, out.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Content != "go test ./..." || e.Context.Cwd != "/home/alice/src" || e.IndexState != models.IndexPending {
		t.Errorf("stored entry = %+v", e)
	}
	if len(h.queue.ids) != 1 || h.queue.ids[0] != out.ID {
		t.Errorf("queued = %v", h.queue.ids)
	}
	if len(h.pub.kinds) == 0 || h.pub.kinds[0] != events.EntryStored {
		t.Errorf("events = %v", h.pub.kinds)
	}
}

func TestCapture_Disabled(t *testing.T) {
	h := newHarness(t, func(p *settings.Preferences) { p.Settings.CaptureClipboard = false })
	out := h.p.Capture(context.Background(), Event{Content: "copied", Source: models.SourceClipboard})
	if out.Status != StatusDisabled {
		t.Fatalf("outcome = %+v", out)
	}
	if n, _ := h.db.Count(context.Background(), ""); n != 0 {
		t.Errorf("disabled capture stored %d entries", n)
	}
}

func TestCapture_Empty(t *testing.T) {
	h := newHarness(t, nil)
	out := h.p.Capture(context.Background(), shell(" \n\t "))
	if out.Status != StatusDropped || out.Reason != ReasonEmpty {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestCapture_PrivacyDrop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out := h.p.Capture(ctx, shell("export PASSWORD=hunter2"))
	if out.Status != StatusDropped || out.Reason != "contains" {
		t.Fatalf("outcome = %+v", out)
	}
	ev := shell("git status")
	ev.Context.Cwd = "/home/alice/src/.git/hooks"
	if out := h.p.Capture(ctx, ev); out.Status != StatusDropped || out.Reason != "exclude_folders" {
		t.Fatalf("folder rule outcome = %+v", out)
	}
	if n, _ := h.db.Count(ctx, ""); n != 0 {
		t.Errorf("dropped captures stored %d entries", n)
	}
	if len(h.queue.ids) != 0 {
		t.Error("dropped captures must not be queued")
	}
}

func TestCapture_EvictsOverLimit(t *testing.T) {
	h := newHarness(t, func(p *settings.Preferences) { p.Settings.ShellLimit = 2 })
	ctx := context.Background()

	first := h.p.Capture(ctx, shell("one"))
	h.p.Capture(ctx, shell("two"))
	h.p.Capture(ctx, shell("three"))

	if n, _ := h.db.Count(ctx, models.SourceShell); n != 2 {
		t.Errorf("shell entries = %d, want 2", n)
	}
	if len(h.index.removed) != 1 || h.index.removed[0] != first.ID {
		t.Errorf("removed from index = %v, want [%d]", h.index.removed, first.ID)
	}
	if _, err := h.db.Get(ctx, first.ID); err == nil {
		t.Error("oldest entry should be evicted")
	}
}

func TestCapture_LimitsArePerSource(t *testing.T) {
	h := newHarness(t, func(p *settings.Preferences) { p.Settings.ShellLimit = 1 })
	ctx := context.Background()
	h.p.Capture(ctx, Event{Content: "clip", Source: models.SourceClipboard})
	h.p.Capture(ctx, shell("a"))
	h.p.Capture(ctx, shell("b"))

	if n, _ := h.db.Count(ctx, models.SourceClipboard); n != 1 {
		t.Errorf("clipboard entries = %d, want 1", n)
	}
}

func TestCapture_FullQueueStillStores(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.full = true
	out := h.p.Capture(context.Background(), shell("ls -la"))
	if out.Status != StatusStored {
		t.Fatalf("outcome = %+v", out)
	}
	pending, _ := h.db.PendingEmbeddings(context.Background(), 0, 10)
	if len(pending) != 1 {
		t.Errorf("entry should stay pending for rescan, got %v", pending)
	}
}

type slowStore struct{ Store }

func (slowStore) Append(ctx context.Context, _ *models.Entry) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type panicStore struct{ Store }

func (panicStore) Append(context.Context, *models.Entry) (int64, error) {
	panic("disk on fire")
}

func TestCapture_Timeout(t *testing.T) {
	st := settings.NewStore(settings.DefaultPreferences(), nil, testutil.Logger())
	p := New(Config{Timeout: 20 * time.Millisecond}, st, slowStore{}, testutil.Logger())

	start := time.Now()
	out := p.Capture(context.Background(), shell("sleep 10"))
	if out.Status != StatusFailed || out.Reason != ReasonTimeout {
		t.Fatalf("outcome = %+v", out)
	}
	if time.Since(start) > time.Second {
		t.Error("capture blocked past its timeout")
	}
}

func TestCapture_PanicBecomesFailed(t *testing.T) {
	st := settings.NewStore(settings.DefaultPreferences(), nil, testutil.Logger())
	p := New(Config{Timeout: time.Second}, st, panicStore{}, testutil.Logger())

	out := p.Capture(context.Background(), shell("make"))
	if out.Status != StatusFailed || out.Reason != "disk on fire" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestCapture_UnknownSource(t *testing.T) {
	h := newHarness(t, nil)
	if out := h.p.Capture(context.Background(), Event{Content: "x", Source: "browser"}); out.Status != StatusFailed {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSweep(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		h.p.Capture(ctx, shell(c))
	}

	next := h.st.Snapshot().Settings
	next.ShellLimit = 1
	if _, err := h.st.UpdateSettings(next); err != nil {
		t.Fatal(err)
	}
	n, err := h.p.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("swept %d, want 4", n)
	}
	if c, _ := h.db.Count(ctx, models.SourceShell); c != 1 {
		t.Errorf("shell entries = %d, want 1", c)
	}
}
