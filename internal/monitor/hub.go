package monitor

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// BroadcastBufferSize bounds the hub's outbound channel so a burst of
// state changes queues rather than blocking the broadcaster.
const BroadcastBufferSize = 256

// EventType names a pushed WebSocket message's payload shape.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventTaskDelta EventType = "task_delta"
	EventLockDelta EventType = "lock_delta"
	EventApproval  EventType = "approval_delta"
)

// Event is one message pushed to connected monitoring clients.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// client is a single WebSocket connection (grounded in
// internal/server.Client: per-connection send channel, separate read
// and write pumps).
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Events to every connected monitoring client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub creates an idle Hub; Run must be started in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, BroadcastBufferSize),
	}
}

// Run is the hub's single-goroutine event loop; it owns all client
// bookkeeping, taking h.mu around each change so ClientCount can read
// the client map from other goroutines.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes an Event to every connected client. Safe to call
// from any goroutine (the Orchestrator calls this on state changes).
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Full buffer: drop rather than block the caller. A client
		// that misses a delta still gets the next periodic snapshot.
	}
}

// ClientCount reports the number of connected monitoring clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Monitoring clients are read-only; inbound frames are drained
		// and discarded so pings/pongs keep the connection alive.
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
