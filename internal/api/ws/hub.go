// Package ws pushes live detection and conversion events to dashboard
// clients. Subscriptions are org-scoped: a client only ever receives its
// own organization's events.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/observability"
	"github.com/your-org/admatch/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin policy is enforced at the HTTP layer
	},
}

// Client is one connected dashboard, pinned to an org.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	orgID uuid.UUID
}

type outbound struct {
	orgID uuid.UUID
	data  []byte
}

// Hub maintains active WebSocket clients and routes each event to the
// org it belongs to.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "org_id", client.orgID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected", "org_id", client.orgID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var stale []*Client
			for client := range h.clients {
				if client.orgID != msg.orgID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer is full; drop the connection.
					stale = append(stale, client)
				}
			}
			h.mu.RUnlock()

			if len(stale) > 0 {
				h.mu.Lock()
				for _, client := range stale {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
						observability.WSConnections.Dec()
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast queues an event for every client of the event's org.
func (h *Hub) Broadcast(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	h.broadcast <- outbound{orgID: event.OrgID, data: data}
}

// HandleWS upgrades the connection. org_id is mandatory; there is no
// unscoped firehose.
func (h *Hub) HandleWS(c *gin.Context) {
	orgID, err := uuid.Parse(c.Query("org_id"))
	if err != nil {
		status, body := apperr.ToEnvelope(apperr.Newf(apperr.CodeInvalidRequest, "invalid org_id"))
		c.JSON(status, body)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 64),
		orgID: orgID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Incoming messages are ignored; the read loop detects disconnects.
	}
}
