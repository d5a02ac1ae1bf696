// Package sse implements a Server-Sent Events broker streaming chart
// changes, event store notifications and search progress.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/harmonia/internal/eventstore"
)

const (
	clientBuffer     = 64
	defaultHistory   = 256
	defaultHeartbeat = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is an encoded event kept for replay.
type frame struct {
	id  uint64
	typ string
	raw []byte
}

type client struct {
	ch chan []byte
	// prefixes filters event types; empty receives everything.
	prefixes []string
}

func (c *client) wants(typ string) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type subscribeReq struct {
	c *client
	// after replays retained frames with a larger id.
	after uint64
}

type progressReq struct {
	typ  string
	data any
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the clients, the replay history and the
// progress throttle state. Public methods talk to it over channels.
type Broker struct {
	progressMin time.Duration
	heartbeat   time.Duration
	history     int

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	progressCh    chan progressReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// BrokerOption tunes a Broker.
type BrokerOption func(*Broker)

// WithHeartbeat sets how often idle streams get a keep-alive comment.
func WithHeartbeat(d time.Duration) BrokerOption {
	return func(b *Broker) { b.heartbeat = d }
}

// WithHistory sets how many recent events are kept for Last-Event-ID
// replay.
func WithHistory(n int) BrokerOption {
	return func(b *Broker) { b.history = n }
}

// NewBroker creates a broker. Search progress is sent at most once per
// progressThrottle for each event type; the latest suppressed report is
// delivered when the interval ends.
func NewBroker(progressThrottle time.Duration, opts ...BrokerOption) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = 2 * time.Second
	}
	b := &Broker{
		progressMin:   progressThrottle,
		heartbeat:     defaultHeartbeat,
		history:       defaultHistory,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		progressCh:    make(chan progressReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*client)
	var ring []frame
	var seq uint64
	lastProgress := make(map[string]time.Time)
	pending := make(map[string]any)

	flushTick := time.NewTicker(b.progressMin)
	defer flushTick.Stop()

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, typ: event.Type, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)}
		if b.history > 0 {
			ring = append(ring, f)
			if len(ring) > b.history {
				ring = ring[len(ring)-b.history:]
			}
		}
		for _, c := range clients {
			if !c.wants(f.typ) {
				continue
			}
			select {
			case c.ch <- f.raw:
			default:
				// slow client, drop rather than stall the loop
			}
		}
	}

	progress := func(typ string, data any, now time.Time) {
		lastProgress[typ] = now
		delete(pending, typ)
		broadcast(Event{Type: "search.progress", Data: data})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.c.ch] = req.c
			if req.after == 0 {
				continue
			}
			for _, f := range ring {
				if f.id <= req.after || !req.c.wants(f.typ) {
					continue
				}
				select {
				case req.c.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.progressCh:
			now := time.Now()
			if now.Sub(lastProgress[req.typ]) >= b.progressMin {
				progress(req.typ, req.data, now)
			} else {
				pending[req.typ] = req.data
			}

		case now := <-flushTick.C:
			for typ, data := range pending {
				if now.Sub(lastProgress[typ]) >= b.progressMin {
					progress(typ, data, now)
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving every event and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(0, nil)
}

// SubscribeFrom adds a client receiving the event types starting with one
// of prefixes (all when empty). Retained events with an id above after are
// replayed first.
func (b *Broker) SubscribeFrom(after uint64, prefixes ...string) chan []byte {
	return b.subscribe(after, prefixes)
}

func (b *Broker) subscribe(after uint64, prefixes []string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscribeReq{c: &client{ch: ch, prefixes: prefixes}, after: after}:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChartEvent announces a created, updated or deleted chart record.
func (b *Broker) PublishChartEvent(kind, path string) {
	b.Publish(Event{Type: "chart." + kind, Data: map[string]string{"path": path}})
}

// PublishNotification forwards an event store notification. The store calls
// its observers under its lock, so a full buffer drops the message instead
// of waiting.
func (b *Broker) PublishNotification(n eventstore.Notification) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- Event{Type: "store." + string(n.Phase), Data: n}:
	default:
	}
}

// PublishProgress reports search progress for an event type.
func (b *Broker) PublishProgress(typ string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.progressCh <- progressReq{typ: typ, data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
//
// The types query parameter limits the stream to comma separated type
// prefixes, e.g. ?types=search,store. A Last-Event-ID header replays what
// the client missed, as far as the history reaches.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var prefixes []string
	for _, p := range strings.Split(r.URL.Query().Get("types"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeFrom(after, prefixes...)
	defer b.Unsubscribe(ch)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat:
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
