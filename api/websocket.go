package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Event types pushed to subscribers.
const (
	EventComparables  = "comparables_fetched"
	EventValuation    = "valuation_complete"
	EventCacheCleared = "cache_cleared"
	EventSubscribed   = "subscribed"
	EventPong         = "pong"
)

// Event is a message sent over WebSocket connections. Identity is the
// normalized identity key the event concerns; empty means global.
type Event struct {
	Type     string      `json:"type"`
	Identity string      `json:"identity,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// clientMessage is what subscribers send.
type clientMessage struct {
	Type     string `json:"type"` // "subscribe", "unsubscribe", "ping"
	Identity string `json:"identity,omitempty"`
}

// Hub fans events out to WebSocket clients.
type Hub struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// Client is one WebSocket connection. A client with no subscriptions
// receives every event.
type Client struct {
	hub  *Hub
	send chan Event

	mu     sync.Mutex
	topics map[string]bool
	closed bool
}

// NewHub creates a hub; call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// NewClient creates a client bound to h with a buffered send queue.
func (h *Hub) NewClient() *Client {
	return &Client{hub: h, send: make(chan Event, 256), topics: make(map[string]bool)}
}

// Run is the hub event loop. It returns when ctx is done, closing every
// client queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case ev := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(ev) && !c.offer(ev) {
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Debug("dropping slow websocket client")
				h.drop(c)
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Broadcast queues ev for delivery; it never blocks.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Debug("event dropped: broadcast queue full", zap.String("type", ev.Type))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. After the hub stops the client is
// closed immediately.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *Client) subscribe(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}

// offer queues ev without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) offer(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants reports whether ev matches the client's subscriptions.
func (c *Client) wants(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.topics) == 0 || ev.Identity == "" {
		return true
	}
	return c.topics[ev.Identity]
}

// handleWebSocket upgrades the connection and streams acquisition events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.hub.NewClient()
	s.hub.Register(client)

	go s.wsWritePump(conn, client)
	go s.wsReadPump(conn, client)
}

// wsReadPump handles subscription messages until the peer goes away.
func (s *Server) wsReadPump(conn *websocket.Conn, client *Client) {
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		var reply Event
		switch msg.Type {
		case "subscribe":
			client.subscribe(msg.Identity, true)
			reply = Event{Type: EventSubscribed, Identity: msg.Identity}
		case "unsubscribe":
			client.subscribe(msg.Identity, false)
			continue
		case "ping":
			reply = Event{Type: EventPong}
		default:
			continue
		}
		client.offer(reply)
	}
}

// wsWritePump writes queued events and keepalive pings.
func (s *Server) wsWritePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
