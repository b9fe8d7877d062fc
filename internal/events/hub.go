// Package events provides the WebSocket event hub that streams sync and
// connectivity events to the terminal UI.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event type names carried in the envelope.
const (
	EventSyncStarted         = "sync.started"
	EventSyncProgress        = "sync.progress"
	EventSyncCompleted       = "sync.completed"
	EventSyncFailed          = "sync.failed"
	EventConnectivityChanged = "connectivity.changed"
)

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Client is one connected UI session with a bounded outbound queue.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active client connections and broadcasts envelopes.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	log     *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		log:     log,
	}
}

// Register attaches a connection and starts its writer pump.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump(h)
	return c
}

// Unregister detaches a client and closes its connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Publish broadcasts an event to every connected client. Slow clients whose
// outbound queue is full are dropped rather than blocking the publisher.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	env := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	msg, err := json.Marshal(env)
	if err != nil {
		h.log.Warn("event marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	var stale []*Client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.log.Warn("dropping slow event client")
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump(h *Hub) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.Unregister(c)
			return
		}
	}
}
