package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the wire format pushed to websocket clients.
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"runId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans run events out to every connected websocket client.
type Hub struct {
	logger *zap.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub creates a hub. Call Run on its own goroutine.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected",
				zap.String("remote", client.conn.RemoteAddr().String()))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues a message for every connected client. Non-blocking;
// drops the message when the hub queue is full.
func (h *Hub) Broadcast(msgType, runID string, payload interface{}) {
	msg := Message{
		Type:      msgType,
		RunID:     runID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message",
			zap.String("type", msgType))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// ServeWS upgrades an HTTP request to a websocket and attaches it to the
// hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan Message, 32)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; the socket is push-only. It exists to
// process control frames and detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
