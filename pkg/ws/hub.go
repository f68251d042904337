// Package ws implements the push-only WebSocket broadcast hub behind
// the operational surface's /ws endpoint. Connected dashboards receive
// a snapshot on connect and a broadcast whenever the agent's stats or
// link state changes; the hub never reads application messages back
// from clients.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types broadcast over the hub.
const (
	MsgTypeSnapshot    = "snapshot" // full state sent to a newly connected client
	MsgTypeStatsUpdate = "stats_update"
	MsgTypeLinkUpdate  = "link_update"
)

// Message is the envelope every broadcast payload is wrapped in.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one connected WebSocket dashboard.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to every connected client and sends
// a snapshot to each client as it connects.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	snapshotProvider func() interface{}
}

// NewHub creates a Hub. Run must be called to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetSnapshotProvider sets the callback used to build the snapshot a
// newly connected client receives.
func (h *Hub) SetSnapshotProvider(provider func() interface{}) {
	h.snapshotProvider = provider
}

// Run drives the hub's event loop. Call it in its own goroutine; it
// returns only when stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.Int("total_clients", count))
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.Int("total_clients", count))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshotProvider == nil {
		return
	}
	snapshot := h.snapshotProvider()
	if snapshot == nil {
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeSnapshot, Data: snapshot})
	if err != nil {
		h.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("dropping snapshot, client send buffer full")
	}
}

// BroadcastMessage wraps data in an envelope of the given type and
// fans it out to every connected client. Non-blocking: slow consumers
// are disconnected rather than allowed to back up the hub.
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}
	h.broadcast <- jsonData
}

// BroadcastStats pushes an updated stats snapshot.
func (h *Hub) BroadcastStats(stats interface{}) {
	h.BroadcastMessage(MsgTypeStatsUpdate, stats)
}

// BroadcastLinkState pushes a link-state transition.
func (h *Hub) BroadcastLinkState(online bool) {
	h.BroadcastMessage(MsgTypeLinkUpdate, map[string]bool{"online": online})
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps a just-upgraded connection as a hub client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
}

// Register adds the client to the hub.
func (c *Client) Register() { c.hub.register <- c }

// Unregister removes the client from the hub.
func (c *Client) Unregister() { c.hub.unregister <- c }

// ReadPump keeps the connection alive and unregisters on any read
// error. The hub is push-only, so incoming application messages are
// discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump relays queued broadcast messages to the client connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
