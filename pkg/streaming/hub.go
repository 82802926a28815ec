// Package streaming pushes dashboard updates over WebSocket. The hub also
// acts as the daemon's visibility signal: pollers and the reconciliation
// orchestrator treat "at least one dashboard client connected" the way a
// browser treats a visible tab, so nothing is fetched while nobody looks.
package streaming

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType is the kind of a streaming event.
type EventType string

const (
	EventTypeMatches      EventType = "matches"
	EventTypePredictions  EventType = "predictions"
	EventTypeConnectivity EventType = "connectivity"
	EventTypeReconcile    EventType = "reconcile"
	EventTypeError        EventType = "error"
	EventTypeHeartbeat    EventType = "heartbeat"
)

var allEventTypes = []EventType{
	EventTypeMatches,
	EventTypePredictions,
	EventTypeConnectivity,
	EventTypeReconcile,
	EventTypeError,
	EventTypeHeartbeat,
}

// Event is a streaming event sent to dashboard clients.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	upgrader websocket.Upgrader

	// onObserved fires on 0 -> >0 and >0 -> 0 client-count transitions.
	onObserved func(observed bool)
	// onCount fires on every client-count change.
	onCount func(n int)
}

// Client is one dashboard WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscriptions map[EventType]bool
	subMu         sync.RWMutex
}

// NewHub creates a streaming hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard is same-origin in production, relaxed here
			},
		},
	}
}

// OnObserved registers the visibility callback, invoked when the first
// client connects and when the last one leaves.
func (h *Hub) OnObserved(fn func(observed bool)) {
	h.onObserved = fn
}

// OnClientCount registers a callback for every client-count change.
func (h *Hub) OnClientCount(fn func(n int)) {
	h.onCount = fn
}

// Run drives the hub's event loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client connected (%d total)", n)
			h.countChanged(n, n == 1)

		case client := <-h.unregister:
			h.mu.Lock()
			n := len(h.clients)
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				n = len(h.clients)
			}
			h.mu.Unlock()
			log.Printf("[WS] client disconnected (%d remaining)", n)
			h.countChanged(n, n == 0)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.Broadcast(Event{
				Type: EventTypeHeartbeat,
				Data: map[string]any{"clients": h.ClientCount()},
			})
		}
	}
}

func (h *Hub) countChanged(n int, transition bool) {
	if h.onCount != nil {
		h.onCount(n)
	}
	if transition && h.onObserved != nil {
		h.onObserved(n > 0)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] marshal event failed: %v", err)
		return
	}

	// Clients with a full buffer are collected here and removed under the
	// write lock afterwards; mutating the map under RLock would race the
	// read-locked readers.
	var doomed []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(event.Type) {
			continue
		}
		select {
		case client.send <- data:
		default:
			doomed = append(doomed, client)
		}
	}
	h.mu.RUnlock()

	if len(doomed) == 0 {
		return
	}

	h.mu.Lock()
	dropped := 0
	for _, client := range doomed {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			dropped++
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	if dropped > 0 {
		log.Printf("[WS] dropped %d slow clients (%d remaining)", dropped, n)
		h.countChanged(n, n == 0)
	}
}

// Broadcast queues an event for all connected clients.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[WS] broadcast channel full, dropping %s event", event.Type)
	}
}

// BroadcastMatches broadcasts a live-match snapshot.
func (h *Hub) BroadcastMatches(matches any) {
	h.Broadcast(Event{Type: EventTypeMatches, Data: matches})
}

// BroadcastPredictions broadcasts a predictions snapshot.
func (h *Hub) BroadcastPredictions(predictions any) {
	h.Broadcast(Event{Type: EventTypePredictions, Data: predictions})
}

// BroadcastConnectivity broadcasts a connectivity transition.
func (h *Hub) BroadcastConnectivity(state any) {
	h.Broadcast(Event{Type: EventTypeConnectivity, Data: state})
}

// BroadcastReconcile broadcasts a reconciliation report.
func (h *Hub) BroadcastReconcile(report any) {
	h.Broadcast(Event{Type: EventTypeReconcile, Data: report})
}

// BroadcastError broadcasts an error event.
func (h *Hub) BroadcastError(err error, where string) {
	h.Broadcast(Event{
		Type: EventTypeError,
		Data: map[string]any{"error": err.Error(), "where": where},
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket upgrade requests.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
	}
	for _, et := range allEventTypes {
		client.subscriptions[et] = true
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) isSubscribed(eventType EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[eventType]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] read error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage processes subscribe/unsubscribe requests from the client.
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type   string   `json:"type"`
		Events []string `json:"events"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subMu.Lock()
		for _, event := range msg.Events {
			c.subscriptions[EventType(event)] = true
		}
		c.subMu.Unlock()

	case "unsubscribe":
		c.subMu.Lock()
		for _, event := range msg.Events {
			delete(c.subscriptions, EventType(event))
		}
		c.subMu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
