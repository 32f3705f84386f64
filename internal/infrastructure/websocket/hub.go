package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"modchat/internal/infrastructure/metrics"
)

// Notification types pushed to attached UI clients.
const (
	NotifyRosterChanged       = "roster_changed"
	NotifyConversationChanged = "conversation_changed"
	NotifyAuthRequired        = "auth_required"
)

// WSMessage is the envelope sent to UI clients.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Client is one attached UI connection.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans state-change notifications out to UI clients.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	broadcast  chan []byte
	mutex      sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		broadcast:  make(chan []byte, 64),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Start runs the hub loop until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		for {
			select {
			case client := <-h.register:
				h.mutex.Lock()
				h.clients[client.ID] = client
				metrics.HubClients.Set(float64(len(h.clients)))
				h.mutex.Unlock()
				h.log.Debug().Str("client_id", client.ID).Msg("client registered")

			case client := <-h.unregister:
				h.remove(client.ID)
				h.log.Debug().Str("client_id", client.ID).Msg("client unregistered")

			case message := <-h.broadcast:
				h.mutex.RLock()
				var slow []string
				for id, client := range h.clients {
					select {
					case client.Send <- message:
					default:
						slow = append(slow, id)
					}
				}
				h.mutex.RUnlock()
				for _, id := range slow {
					h.remove(id)
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Register attaches a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(client.Send)
	}
	metrics.HubClients.Set(float64(len(h.clients)))
}

// Notify queues a notification for every client. It never blocks; when the
// queue is full the notification is dropped since clients re-read state.
func (h *Hub) Notify(kind string, data interface{}) {
	payload, err := json.Marshal(WSMessage{Type: kind, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("marshal notification")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn().Str("type", kind).Msg("hub queue full, dropping notification")
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ReadPump drains the client side of the connection so close frames are
// processed. UI clients do not send commands over it.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.detach(c)
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("client_id", c.ID).Msg("client read")
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
