// Package sse implements a Server-Sent Events broker for backend status,
// cache invalidation and download progress.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types.
const (
	TypeStatus      = "store.status"
	TypeInvalidated = "cache.invalidated"
	TypeProgress    = "download.progress"
)

const (
	clientBuffer     = 64
	defaultThrottle  = 250 * time.Millisecond
	defaultKeepAlive = 15 * time.Second
)

// Progress is the payload of a download.progress event.
type Progress struct {
	DOI     string `json:"doi"`
	Version string `json:"version"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
}

func (p Progress) key() string { return p.DOI + "@" + p.Version }

func (p Progress) final() bool { return p.Done >= p.Total }

type statusUpdate struct {
	backend string
	state   any
}

// Broker fans events out to SSE clients. One goroutine owns the client set,
// the retained backend statuses and the progress throttle; the public methods
// talk to it over channels.
//
// New clients first receive the latest status of every backend.
type Broker struct {
	throttle  time.Duration
	keepAlive time.Duration

	join    chan chan []byte
	leave   chan chan []byte
	events  chan Event
	status  chan statusUpdate
	updates chan Progress
	count   chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. Intermediate progress events of one download are
// sent at most once per progressThrottle (250ms when non-positive).
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = defaultThrottle
	}
	b := &Broker{
		throttle:  progressThrottle,
		keepAlive: defaultKeepAlive,
		join:      make(chan chan []byte),
		leave:     make(chan chan []byte),
		events:    make(chan Event, 256),
		status:    make(chan statusUpdate, 16),
		updates:   make(chan Progress, 256),
		count:     make(chan chan int),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// hub is the state owned by the broker goroutine.
type hub struct {
	clients  map[chan []byte]struct{}
	statuses map[string][]byte
	lastSent map[string]time.Time
	seq      uint64
}

func (h *hub) frame(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, false
	}
	h.seq++
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, ev.Type, payload), true
}

// send never blocks; a client with a full buffer misses the message.
func send(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
	}
}

func (h *hub) broadcast(msg []byte) {
	for ch := range h.clients {
		send(ch, msg)
	}
}

func (h *hub) admit(ch chan []byte) {
	h.clients[ch] = struct{}{}
	backends := make([]string, 0, len(h.statuses))
	for name := range h.statuses {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	for _, name := range backends {
		send(ch, h.statuses[name])
	}
}

// allowProgress applies the per-download throttle.
func (h *hub) allowProgress(p Progress, now time.Time, every time.Duration) bool {
	k := p.key()
	if p.final() {
		delete(h.lastSent, k)
		return true
	}
	if t, ok := h.lastSent[k]; ok && now.Sub(t) < every {
		return false
	}
	h.lastSent[k] = now
	return true
}

func (b *Broker) loop() {
	defer close(b.stopped)

	h := &hub{
		clients:  make(map[chan []byte]struct{}),
		statuses: make(map[string][]byte),
		lastSent: make(map[string]time.Time),
	}

	for {
		select {
		case <-b.stop:
			for ch := range h.clients {
				close(ch)
			}
			return

		case ch := <-b.join:
			h.admit(ch)

		case ch := <-b.leave:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}

		case ev := <-b.events:
			if msg, ok := h.frame(ev); ok {
				h.broadcast(msg)
			}

		case u := <-b.status:
			if msg, ok := h.frame(Event{Type: TypeStatus, Data: u.state}); ok {
				h.statuses[u.backend] = msg
				h.broadcast(msg)
			}

		case p := <-b.updates:
			if !h.allowProgress(p, time.Now(), b.throttle) {
				continue
			}
			if msg, ok := h.frame(Event{Type: TypeProgress, Data: p}); ok {
				h.broadcast(msg)
			}

		case resp := <-b.count:
			resp <- len(h.clients)
		}
	}
}

// Close stops the broker and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// deliver hands v to the broker loop unless it has stopped.
func deliver[T any](b *Broker, ch chan T, v T) {
	if b.closed.Load() {
		return
	}
	select {
	case ch <- v:
	case <-b.stopped:
	}
}

// Subscribe registers a client. The channel is closed on Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	deliver(b, b.leave, ch)
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	deliver(b, b.events, event)
}

// PublishStatus broadcasts a backend status transition and retains it for
// clients that connect later.
func (b *Broker) PublishStatus(backend string, state any) {
	deliver(b, b.status, statusUpdate{backend: backend, state: state})
}

// PublishInvalidation broadcasts that cached versions of doi were dropped.
func (b *Broker) PublishInvalidation(kind, doi string) {
	b.Publish(Event{Type: TypeInvalidated, Data: map[string]string{"kind": kind, "doi": doi}})
}

// PublishProgress reports download progress. The first and final events of a
// download are always sent; those in between are throttled.
func (b *Broker) PublishProgress(p Progress) {
	deliver(b, b.updates, p)
}

// ServeHTTP streams events to one client (GET /api/events). A comment line is
// written every keep-alive interval so idle proxies keep the stream open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
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
