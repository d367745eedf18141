package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is the broadcast envelope: one logical channel per session,
// addressed by session token. Subscribers receive messages in the order the
// session applies them; there is no replay on reconnect.
type Message struct {
	Type            string    `json:"type"`
	SessionToken    string    `json:"sessionToken"`
	Payload         any       `json:"payload"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// Publisher is the seam the collaboration core publishes through, so it can
// be tested without a live transport.
type Publisher interface {
	Publish(sessionToken string, msg Message)
}

type Client struct {
	ID       string
	UserID   uuid.UUID
	Sessions map[string]bool
	Send     chan []byte
}

// Hub fans session messages out to subscribed clients. A single goroutine
// drains the broadcast channel, which preserves per-session publish order.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg)
			for _, client := range h.clients {
				if client.Sessions[msg.SessionToken] {
					select {
					case client.Send <- data:
					default:
						// Client buffer full, skip
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) Subscribe(clientID, sessionToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		client.Sessions[sessionToken] = true
	}
}

func (h *Hub) Unsubscribe(clientID, sessionToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		delete(client.Sessions, sessionToken)
	}
}

// Publish implements Publisher. The server timestamp is stamped here so
// every subscriber sees the same one.
func (h *Hub) Publish(sessionToken string, msg Message) {
	msg.SessionToken = sessionToken
	if msg.ServerTimestamp.IsZero() {
		msg.ServerTimestamp = time.Now().UTC()
	}
	h.broadcast <- msg
}
