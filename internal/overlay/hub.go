// Package overlay pushes live command and routing updates to browser overlays
// over WebSocket.
package overlay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/patchbay/internal/state"
	"github.com/gorilla/websocket"
)

// MessageType names an overlay message.
type MessageType string

const (
	MessageFullState      MessageType = "full_state"
	MessageCVUpdate       MessageType = "cv_update"
	MessageRoutingUpdate  MessageType = "routing_update"
	MessageRoutingChange  MessageType = "routing_change"
	MessageOverlayToggle  MessageType = "overlay_toggle"
	MessageClearAll       MessageType = "clear_all"
	MessageEmergencyStop  MessageType = "emergency_stop"
	MessageAdminSync      MessageType = "admin_sync"
	MessageRoutingDisplay MessageType = "routing_display"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	sendBuffer   = 64
)

// Message is the JSON frame sent to overlay clients.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// StateSource provides the snapshot sent to new clients.
type StateSource interface {
	Snapshot(ctx context.Context) (*state.FullState, error)
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Clients    int    `json:"clients"`
	Broadcasts uint64 `json:"broadcasts"`
	Suppressed uint64 `json:"suppressed"`
	Dropped    uint64 `json:"dropped"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// Hub fans messages out to every connected overlay. It implements
// http.Handler for the upgrade endpoint.
type Hub struct {
	upgrader websocket.Upgrader
	source   StateSource

	mu      sync.RWMutex
	clients map[*client]struct{}

	enabled    atomic.Bool
	broadcasts atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub creates a hub. source may be nil, in which case new clients receive
// an empty full_state.
func NewHub(source StateSource, enabled bool) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		source:  source,
		clients: make(map[*client]struct{}),
	}
	h.enabled.Store(enabled)
	return h
}

// SetEnabled toggles delivery of cv_update messages.
func (h *Hub) SetEnabled(enabled bool) {
	h.enabled.Store(enabled)
}

// Enabled reports whether cv_update messages are delivered.
func (h *Hub) Enabled() bool {
	return h.enabled.Load()
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Overlay] Upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	if frame, err := h.fullState(r.Context()); err == nil {
		c.send <- frame
	} else {
		log.Printf("[Overlay] Failed to build full state: %v", err)
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[Overlay] Client connected (%d total)", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) fullState(ctx context.Context) ([]byte, error) {
	full := &state.FullState{Variables: []state.ActiveVariable{}, OverlayEnabled: h.Enabled()}
	if h.source != nil {
		snap, err := h.source.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		full = snap
		full.OverlayEnabled = h.Enabled()
	}
	return encode(MessageFullState, full)
}

// Broadcast sends a message to every client. cv_update is suppressed while
// the overlay is disabled. Slow clients whose buffers are full miss the
// message.
func (h *Hub) Broadcast(t MessageType, data any) {
	if t == MessageCVUpdate && !h.Enabled() {
		h.suppressed.Add(1)
		return
	}

	frame, err := encode(t, data)
	if err != nil {
		log.Printf("[Overlay] Failed to encode %s: %v", t, err)
		return
	}
	h.broadcasts.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	clients := len(h.clients)
	h.mu.RUnlock()
	return HubStats{
		Clients:    clients,
		Broadcasts: h.broadcasts.Load(),
		Suppressed: h.suppressed.Load(),
		Dropped:    h.dropped.Load(),
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		log.Printf("[Overlay] Client disconnected (%d remaining)", count)
	})
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func encode(t MessageType, data any) ([]byte, error) {
	return json.Marshal(Message{Type: t, Data: data, Timestamp: time.Now().UnixMilli()})
}
