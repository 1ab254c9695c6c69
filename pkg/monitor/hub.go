// Package monitor exposes a live view of a programming session: a
// WebSocket feed of session events and a small status API. It is an
// optional outer surface; the protocol layers work without it.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/gorilla/websocket"
)

// Event represents a WebSocket event to be broadcast to clients
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Marshal converts an event to JSON bytes
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Client represents a WebSocket client connection
type Client struct {
	ID       string
	conn     *websocket.Conn
	messages chan []byte
}

// Hub manages WebSocket client connections and broadcasts. It
// implements the session event sink, so a session wired to it streams
// state changes, read progress and write progress to every client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log,
	}
}

// Run starts the hub event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Monitor client registered",
				logger.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.messages)
			}
			h.mu.Unlock()
			h.logger.Debug("Monitor client unregistered",
				logger.String("client_id", client.ID))

		case event := <-h.broadcast:
			data, err := event.Marshal()
			if err != nil {
				h.logger.Error("Failed to marshal event",
					logger.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.messages <- data:
				default:
					// Client buffer full, skip
					h.logger.Warn("Client message buffer full, skipping",
						logger.String("client_id", client.ID))
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.logger.Info("Monitor hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				close(client.messages)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			logger.String("event_type", event.Type))
	}
}

// Emit satisfies the session event sink: every session event becomes a
// WebSocket broadcast.
func (h *Hub) Emit(event string, data map[string]interface{}) {
	h.Broadcast(Event{Type: event, Data: data})
}

// Handler returns an HTTP handler for WebSocket connections
func (h *Hub) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		client := &Client{ID: r.RemoteAddr, conn: conn, messages: make(chan []byte, 256)}
		h.register <- client

		// Reader goroutine: drain read to detect close
		go func() {
			defer func() {
				h.unregister <- client
				_ = client.conn.Close()
			}()
			client.conn.SetReadLimit(1024)
			for {
				if _, _, err := client.conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Writer loop
		go func() {
			for msg := range client.messages {
				_ = client.conn.WriteMessage(websocket.TextMessage, msg)
			}
		}()
	})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
