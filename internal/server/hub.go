package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/shelfsync/shelfsync/internal/syncer"
)

const (
	// hubWriteTimeout bounds a single websocket write.
	hubWriteTimeout = 5 * time.Second

	// hubClientBuffer is how many messages a slow client may fall behind
	// before messages to it are dropped.
	hubClientBuffer = 16
)

// MessageType tags each message on the events stream.
type MessageType string

const (
	MessageTypeHello MessageType = "hello"
	MessageTypeSync  MessageType = "sync"
)

// Message is one frame on the events stream.
type Message struct {
	Type      MessageType   `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Event     *syncer.Event `json:"event,omitempty"`
}

type hubClient struct {
	send chan []byte
}

// Hub fans sync events out to websocket clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates a hub with no clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Broadcast sends a sync event to every client. It never blocks: a
// client whose buffer is full misses the message.
func (h *Hub) Broadcast(ev syncer.Event) {
	data, err := json.Marshal(Message{Type: MessageTypeSync, Timestamp: time.Now(), Event: &ev})
	if err != nil {
		h.logger.Warn("marshalling event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow client")
		}
	}
}

func (h *Hub) add(c *hubClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}

	return len(h.clients)
}

func (h *Hub) remove(c *hubClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)

	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	c := &hubClient{send: make(chan []byte, hubClientBuffer)}
	n := h.add(c)
	h.logger.Debug("events client connected", slog.Int("clients", n))

	defer func() {
		n := h.remove(c)
		h.logger.Debug("events client disconnected", slog.Int("clients", n))
	}()

	// Clients never send; CloseRead handles control frames and reports
	// disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	if err := write(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := write(ctx, conn, data); err != nil {
				h.logger.Debug("events write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, hubWriteTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
