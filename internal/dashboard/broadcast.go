package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/store"
)

const snapshotLimit = 100

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans live envelopes out to connected dashboard clients.
// It is itself a dispatcher sink: registered with the dispatcher it
// turns envelope and lifecycle deliveries into WebSocket frames.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	store   *store.Store

	throttle   time.Duration
	pending    []*event.Envelope
	flushTimer *time.Timer
	flushMu    sync.Mutex
}

func NewBroadcaster(st *store.Store, throttle time.Duration) *Broadcaster {
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		store:    st,
		throttle: throttle,
	}
}

func (b *Broadcaster) Name() string { return "dashboard" }

func (b *Broadcaster) OnConnected() {
	b.broadcast(Message{Type: MsgStatus, Payload: StatusPayload{Gateway: "connected"}})
}

func (b *Broadcaster) OnEnvelope(env *event.Envelope) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pending = append(b.pending, env)
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) OnSessionLost(err error) {
	payload := StatusPayload{Gateway: "lost"}
	if err != nil {
		payload.Detail = err.Error()
	}
	b.broadcast(Message{Type: MsgStatus, Payload: payload})
}

// AddClient registers a connection and sends it the stored history.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	events, err := b.store.Recent(snapshotLimit)
	if err != nil {
		log.Printf("snapshot query failed: %v", err)
	}
	data, _ := json.Marshal(Message{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Events: events},
	})

	select {
	case c.send <- data:
	default:
		// Client too slow for its own snapshot, drop it
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	batch := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(batch) == 0 {
		return
	}
	b.broadcast(Message{Type: MsgEvents, Payload: EventsPayload{Events: batch}})
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
