package clipwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/testutil"
)

type fakeClipboard struct {
	mu   sync.Mutex
	text string
	err  error
}

func (c *fakeClipboard) set(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *fakeClipboard) read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.err
}

type recorder struct {
	mu     sync.Mutex
	events []capture.Event
}

func (r *recorder) Capture(_ context.Context, ev capture.Event) capture.Outcome {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return capture.Outcome{Status: capture.StatusStored, ID: 1}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPoll_CapturesChangesOnly(t *testing.T) {
	clip := &fakeClipboard{text: "first"}
	rec := &recorder{}
	w := New(Config{}, rec, testutil.Logger(), WithReader(clip.read))
	ctx := context.Background()

	if !w.Poll(ctx) {
		t.Fatal("first poll should capture")
	}
	if w.Poll(ctx) {
		t.Error("unchanged clipboard must not be captured again")
	}
	clip.set("second")
	if !w.Poll(ctx) {
		t.Error("changed clipboard should be captured")
	}
	if rec.count() != 2 || rec.events[1].Content != "second" || rec.events[1].Source != models.SourceClipboard {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestPoll_ReadError(t *testing.T) {
	clip := &fakeClipboard{err: errors.New("no display")}
	rec := &recorder{}
	w := New(Config{}, rec, testutil.Logger(), WithReader(clip.read))
	if w.Poll(context.Background()) || rec.count() != 0 {
		t.Error("read errors must not capture")
	}
}

func TestRun_IgnoresInitialContent(t *testing.T) {
	clip := &fakeClipboard{text: "already there"}
	rec := &recorder{}
	w := New(Config{Interval: 10 * time.Millisecond}, rec, testutil.Logger(), WithReader(clip.read))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("content present at start should not be captured")
	}
	clip.set("copied later")
	testutil.Eventually(t, time.Second, func() bool { return rec.count() == 1 })

	cancel()
	<-done
}
