package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait bounds a single subscriber write so a stalled client cannot
// hold the hub lock
const writeWait = 10 * time.Second

// Event is a message pushed to live feed subscribers when an issue
// changes
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans issue events out to connected websocket clients. Writes that
// fail drop the client.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub returns an empty hub
func NewHub() *Hub {
	return &Hub{clients: map[*websocket.Conn]bool{}}
}

// Register adds a subscriber connection
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	zap.S().Debugf("live feed subscriber added, %d connected", len(h.clients))
}

// Unregister removes and closes a subscriber connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Broadcast sends the event to every subscriber, dropping any connection
// that can no longer be written to
func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		zap.S().Errorw("failed to marshal live event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			zap.S().Debugw("dropping live feed subscriber", "error", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
