// Package main provides WebSocket server for real-time collection events (desktop only).
package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin only allows connections from localhost pages. Requests
// without an Origin header come from native clients.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.RWMutex
	subscriptions map[string]bool
}

func (c *WSClient) subscribed(viewID string) bool {
	if viewID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[viewID] || c.subscriptions["*"]
}

// WSHub maintains active client connections and fans collection events out
// to the clients watching each view.
type WSHub struct {
	surface    *dispatch.Surface
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	watched map[string]func()
}

type wsMessage struct {
	viewID  string
	payload []byte
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	ViewID    string      `json:"view_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// =====================================================
// WebSocket Event Types
// =====================================================

const (
	EventCollectionChanged = "collection.changed"
	EventRefreshCompleted  = "scheduler.refresh_completed"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub(surface *dispatch.Surface) *WSHub {
	hub := &WSHub{
		surface:    surface,
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		watched:    make(map[string]func()),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			return

		case client := <-h.register:
			h.clients[client.id] = client
			logging.Debug("WebSocket client connected", map[string]interface{}{
				"client_id": client.id,
				"total":     len(h.clients),
			})

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			logging.Debug("WebSocket client disconnected", map[string]interface{}{
				"client_id": client.id,
				"total":     len(h.clients),
			})

		case msg := <-h.broadcast:
			for id, client := range h.clients {
				if !client.subscribed(msg.viewID) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, id)
				}
			}
		}
	}
}

// Close stops the hub and disconnects every client.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		for id, cancel := range h.watched {
			cancel()
			delete(h.watched, id)
		}
		h.mu.Unlock()
		close(h.done)
	})
}

// Broadcast sends a message to the clients subscribed to viewID, or to all
// clients when viewID is empty.
func (h *WSHub) Broadcast(messageType, viewID string, data interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		ViewID:    viewID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err)
		return
	}

	select {
	case h.broadcast <- wsMessage{viewID: viewID, payload: bytes}:
	case <-h.done:
	}
}

// Watch starts forwarding a view's events. Watching a view twice is a no-op.
func (h *WSHub) Watch(viewID string) *dispatch.OperationError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watched[viewID]; ok {
		return nil
	}
	events, cancel, opErr := h.surface.Subscribe(viewID, 64)
	if opErr != nil {
		return opErr
	}
	h.watched[viewID] = cancel

	go func() {
		for ev := range events {
			h.Broadcast(EventCollectionChanged, viewID, ev)
		}
		h.mu.Lock()
		delete(h.watched, viewID)
		h.mu.Unlock()
	}()
	return nil
}

// BroadcastRefreshCompleted notifies clients that a manual refresh round finished.
func (h *WSHub) BroadcastRefreshCompleted(refreshed int) {
	h.Broadcast(EventRefreshCompleted, "", map[string]interface{}{
		"refreshed": refreshed,
	})
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error", map[string]interface{}{"error": err.Error()})
			}
			break
		}

		var msg struct {
			Action string   `json:"action"`
			Views  []string `json:"views"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("Invalid WebSocket message", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch msg.Action {
		case "subscribe":
			accepted := c.subscribe(msg.Views)
			c.sendJSON(map[string]interface{}{
				"action":     "subscribe_ack",
				"subscribed": accepted,
				"timestamp":  time.Now().Unix(),
			})

		case "unsubscribe":
			c.mu.Lock()
			for _, id := range msg.Views {
				delete(c.subscriptions, id)
			}
			c.mu.Unlock()

		case "ping":
			c.sendJSON(map[string]interface{}{
				"action":    "pong",
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

// subscribe watches each view and returns the ids that exist.
func (c *WSClient) subscribe(views []string) []string {
	accepted := make([]string, 0, len(views))
	for _, id := range views {
		if id == "*" {
			for _, v := range c.hub.surface.Views().Value {
				c.hub.Watch(v.ID)
			}
		} else {
			if opErr := c.hub.Watch(id); opErr != nil {
				continue
			}
		}
		c.mu.Lock()
		c.subscriptions[id] = true
		c.mu.Unlock()
		accepted = append(accepted, id)
	}
	return accepted
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a direct reply. Replies are dropped when the buffer is full.
func (c *WSClient) sendJSON(v interface{}) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return
	}
	defer func() {
		// send may already be closed by the hub
		recover()
	}()
	select {
	case c.send <- bytes:
	default:
	}
}

// HandleWebSocket handles WebSocket connections. Views listed in the "view"
// query parameter are subscribed up front.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.NewScoped("ws"),
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}
		client.subscribe(r.URL.Query()["view"])

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
