package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(SearchPerformed, map[string]any{"mode": "auto", "results": 3})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: search.performed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.HasPrefix(s, "id: ") {
			t.Errorf("missing event id in %q", s)
		}
		data := s[strings.Index(s, "data: ")+len("data: "):]
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if ev.ID == "" || ev.Type != SearchPerformed || ev.Time.IsZero() {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishEntryEvent_CorpusThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishEntryEvent(EntryStored, EntryData{IDs: []int64{1}, Source: "shell"})
	b.PublishEntryEvent(EntryEvicted, EntryData{IDs: []int64{2, 3}})
	b.PublishEntryEvent(EntryDropped, EntryData{Source: "clipboard", Reason: "contains"})

	time.Sleep(50 * time.Millisecond)
	corpus, entry := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: "+CorpusChanged) {
			corpus++
		} else {
			entry++
		}
	}
	if entry != 3 {
		t.Errorf("entry events = %d, want 3", entry)
	}
	if corpus != 1 {
		t.Errorf("corpus events = %d, want 1 (throttled)", corpus)
	}
}

func TestPublishEntryEvent_DroppedDoesNotChangeCorpus(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishEntryEvent(EntryDropped, EntryData{Reason: "empty"})
	time.Sleep(50 * time.Millisecond)
	for _, s := range drain(ch) {
		if strings.Contains(s, CorpusChanged) {
			t.Error("a dropped capture must not signal a corpus change")
		}
	}
}

func TestIndexListener(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.EntryIndexed(7)
	b.EntryIndexFailed(8, errors.New("provider down"))
	time.Sleep(50 * time.Millisecond)

	all := strings.Join(drain(ch), "")
	if !strings.Contains(all, "event: entry.indexed") || !strings.Contains(all, "event: entry.index_failed") {
		t.Errorf("missing index events in %q", all)
	}
	if !strings.Contains(all, "provider down") {
		t.Errorf("failure reason missing in %q", all)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(AskAnswered, map[string]any{"degraded": false})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if body := w.Body.String(); !strings.Contains(body, "event: ask.answered") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish("test", map[string]int{"i": i})
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(EntryDeleted, nil)
	b.PublishEntryEvent(EntryStored, EntryData{})
}
