package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/metrics"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans events out to the websocket clients of this process
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	logger  zerolog.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		logger:  logger.WithComponent(log, "ws_hub"),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &client{conn: conn}
	h.add(c)
	defer h.remove(c)

	// clients only listen, reads detect disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends an event to every connected client
func (h *Hub) Publish(_ context.Context, event string, payload any) error {
	data, err := Encode(event, payload)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	metrics.RecordPublish(event, "websocket")
	return nil
}

// Broadcast writes an encoded message to every client. Clients that fail
// the write are dropped.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping websocket client")
			h.remove(c)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	metrics.WebsocketClients.Inc()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		metrics.WebsocketClients.Dec()
	}
}
