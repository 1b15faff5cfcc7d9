// Package events streams lifecycle events to plugin hosts over Server-Sent
// Events. The core only publishes; subscribers never run inside the process.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EntryStored      = "entry.stored"
	EntryDropped     = "entry.dropped"
	EntryEvicted     = "entry.evicted"
	EntryIndexed     = "entry.indexed"
	EntryIndexFailed = "entry.index_failed"
	EntryDeleted     = "entry.deleted"
	SearchPerformed  = "search.performed"
	AskAnswered      = "ask.answered"
	CorpusChanged    = "corpus.changed"
)

// Event is a lifecycle event.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// EntryData is the payload of entry.* events.
type EntryData struct {
	IDs    []int64 `json:"ids,omitempty"`
	Source string  `json:"source,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

type entryEventReq struct {
	kind string
	data EntryData
}

// Broker fans events out to SSE subscribers.
//
// A single event loop owns the client set and the corpus.changed throttle;
// public methods talk to it over channels.
type Broker struct {
	corpusMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	entryEventCh  chan entryEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits corpus.changed at most once per
// corpusThrottle.
func NewBroker(corpusThrottle time.Duration) *Broker {
	if corpusThrottle <= 0 {
		corpusThrottle = 2 * time.Second
	}

	b := &Broker{
		corpusMin:     corpusThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		entryEventCh:  make(chan entryEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func newEvent(typ string, data any) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), Data: data}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastCorpus time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.entryEventCh:
			broadcast(newEvent(req.kind, req.data))
			if req.kind == EntryDropped {
				continue
			}
			now := time.Now()
			if now.Sub(lastCorpus) >= b.corpusMin {
				lastCorpus = now
				broadcast(newEvent(CorpusChanged, struct{}{}))
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event of type typ to all clients.
func (b *Broker) Publish(typ string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- newEvent(typ, data):
	case <-b.stopped:
	}
}

// PublishEntryEvent publishes an entry.* event. Every kind except
// entry.dropped also triggers a throttled corpus.changed.
func (b *Broker) PublishEntryEvent(kind string, data EntryData) {
	if b.closed.Load() {
		return
	}
	select {
	case b.entryEventCh <- entryEventReq{kind: kind, data: data}:
	case <-b.stopped:
	}
}

// EntryIndexed reports a finished embedding.
func (b *Broker) EntryIndexed(id int64) {
	b.PublishEntryEvent(EntryIndexed, EntryData{IDs: []int64{id}})
}

// EntryIndexFailed reports an entry that will not be embedded.
func (b *Broker) EntryIndexFailed(id int64, err error) {
	b.PublishEntryEvent(EntryIndexFailed, EntryData{IDs: []int64{id}, Reason: err.Error()})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
