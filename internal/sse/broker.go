// Package sse streams vault and session updates to browsers as Server-Sent
// Events.
//
// Every event carries an increasing id. Text events belong to one session;
// a client that connects with ?session=<id> receives only that session's
// text events, alongside all vault events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	clientBuffer = 64
	keepAlive    = 25 * time.Second
)

// Event is one event to broadcast. Session, when set, limits delivery to
// clients watching that session or all sessions.
type Event struct {
	Type    string
	Session string
	Data    any
}

// TextEvent is the payload of text.resolved and text.edited events.
type TextEvent struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	ID      string `json:"id"`
	Text    string `json:"text"`
}

type documentEvent struct {
	Path string `json:"path"`
}

type client struct {
	ch      chan []byte
	session string
}

func (c *client) wants(ev Event) bool {
	return c.session == "" || ev.Session == "" || ev.Session == c.session
}

// Broker fans events out to connected clients. Slow clients miss events
// instead of holding up publishers.
type Broker struct {
	indexMin time.Duration

	mu        sync.Mutex
	clients   map[chan []byte]*client
	nextID    uint64
	lastIndex time.Time
	closed    bool
}

// NewBroker creates a broker. index.updated events are sent at most once
// per indexThrottle.
func NewBroker(indexThrottle time.Duration) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}
	return &Broker{
		indexMin: indexThrottle,
		clients:  make(map[chan []byte]*client),
	}
}

// Subscribe adds a client and returns its channel. An empty session
// receives the text events of every session. The channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe(session string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = &client{ch: ch, session: session}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	clear(b.clients)
}

// Publish sends ev to every client that wants it.
func (b *Broker) Publish(ev Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast(ev, payload)
}

// broadcast must be called with b.mu held.
func (b *Broker) broadcast(ev Event, payload []byte) {
	if b.closed {
		return
	}
	b.nextID++
	msg := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", b.nextID, ev.Type, payload))
	for _, c := range b.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.ch <- msg:
		default:
		}
	}
}

// PublishDocumentEvent publishes document.<kind> for a vault change (kind is
// created, updated or deleted) followed by a throttled index.updated.
func (b *Broker) PublishDocumentEvent(kind, path string) {
	switch kind {
	case "created", "updated", "deleted":
	default:
		return
	}
	payload, _ := json.Marshal(documentEvent{Path: path})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast(Event{Type: "document." + kind}, payload)
	if now := time.Now(); now.Sub(b.lastIndex) >= b.indexMin {
		b.lastIndex = now
		b.broadcast(Event{Type: "index.updated"}, []byte("{}"))
	}
}

// PublishTextResolved announces an element whose transclusions finished
// resolving.
func (b *Broker) PublishTextResolved(ev TextEvent) {
	b.Publish(Event{Type: "text.resolved", Session: ev.Session, Data: ev})
}

// PublishTextEdited announces an element a session rewrote itself.
func (b *Broker) PublishTextEdited(ev TextEvent) {
	b.Publish(Event{Type: "text.edited", Session: ev.Session, Data: ev})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// session query parameter narrows text events to one session.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("session"))
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
