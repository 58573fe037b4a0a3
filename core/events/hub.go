// Package events fans catalog and agent changes out to websocket subscribers,
// grouped by user.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"radiotiker/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// EventType 推送给订阅者的消息类型
type EventType string

const (
	EventLibrary EventType = "library" // 曲库更新
	EventAgent   EventType = "agent"   // 代理上线
)

// LibraryEvent follows every upsert batch and clear.
type LibraryEvent struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id"`
	Version int64     `json:"version"`
	Count   int       `json:"count"`
}

// AgentEvent follows every announce.
type AgentEvent struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id"`
	BaseURL string    `json:"base_url"`
	Online  bool      `json:"online"`
}

type broadcast struct {
	userID  string
	message []byte
}

// Hub owns the subscriber sets. Run must be running for registrations and
// broadcasts to take effect.
type Hub struct {
	users map[string]map[*Client]bool
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcast
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		users:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcast, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.broadcastToUser(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop ends Run and disconnects every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]bool)
	}
	h.users[c.userID][c] = true
	logger.Debug("event subscriber registered",
		logger.String("user", c.userID),
		logger.Int("subscribers", len(h.users[c.userID])))
}

// removeClient requires h.mu held for writing.
func (h *Hub) removeClient(c *Client) {
	clients, ok := h.users[c.userID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.users, c.userID)
	}
	logger.Debug("event subscriber removed", logger.String("user", c.userID))
}

func (h *Hub) broadcastToUser(msg *broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.users[msg.userID] {
		select {
		case c.send <- msg.message:
		default:
			// Slow subscriber.
			h.removeClient(c)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.users {
		for c := range clients {
			close(c.send)
		}
	}
	h.users = make(map[string]map[*Client]bool)
}

// ClientCount returns the number of subscribers for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) publish(userID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode event", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &broadcast{userID: userID, message: data}:
	case <-h.done:
	default:
		logger.Warn("event queue full, dropping event", logger.String("user", userID))
	}
}

// PublishLibrary announces a new catalog version.
func (h *Hub) PublishLibrary(userID string, version int64, count int) {
	h.publish(userID, LibraryEvent{Type: EventLibrary, UserID: userID, Version: version, Count: count})
}

// PublishAgent announces an agent contact.
func (h *Hub) PublishAgent(userID, baseURL string, online bool) {
	h.publish(userID, AgentEvent{Type: EventAgent, UserID: userID, BaseURL: baseURL, Online: online})
}

// Client is one websocket subscriber.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{hub: hub, conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
}

// ReadPump discards inbound messages and keeps the pong deadline fresh. It
// returns when the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("user", c.userID))
			}
			return
		}
	}
}

// WritePump forwards queued events and pings the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
