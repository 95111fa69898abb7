package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"Urban-Render/server/internal/engine"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 32
)

// Client is a WebSocket connection watching one session
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *SessionHub
	mu        sync.Mutex
	closed    bool
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// SessionHub fans session events out to the WebSocket clients of that session
type SessionHub struct {
	clients    map[string]map[string]*Client // session id -> client id -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan sessionMessage
	done       chan struct{}
	mu         sync.RWMutex
	count      *atomic.Int64
	dropped    *atomic.Int64
	logger     *zap.Logger
}

// NewSessionHub creates a new session hub
func NewSessionHub(logger *zap.Logger) *SessionHub {
	return &SessionHub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan sessionMessage, 256),
		done:       make(chan struct{}),
		count:      atomic.NewInt64(0),
		dropped:    atomic.NewInt64(0),
		logger:     logger.Named("hub"),
	}
}

// Run processes registrations and broadcasts until ctx is done
func (h *SessionHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register hands a client to the hub. It reports false once the hub has stopped.
func (h *SessionHub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; it returns immediately once the hub has stopped
func (h *SessionHub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish implements engine.EventPublisher
func (h *SessionHub) Publish(sessionID string, evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	default:
		h.dropped.Inc()
		h.logger.Warn("broadcast channel full, dropping event", zap.String("session_id", sessionID), zap.String("type", evt.Type))
	}
}

// GetClientCount returns the number of connected clients
func (h *SessionHub) GetClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many events were dropped because a buffer was full
func (h *SessionHub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *SessionHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.SessionID]
	if !ok {
		set = make(map[string]*Client)
		h.clients[client.SessionID] = set
	}
	set[client.ID] = client
	h.count.Inc()
	h.logger.Debug("client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID),
		zap.Int64("total", h.count.Load()),
	)

	go client.writePump()
}

func (h *SessionHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := set[client.ID]; !ok {
		return
	}
	delete(set, client.ID)
	if len(set) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
	h.count.Dec()
	h.logger.Debug("client disconnected", zap.String("client_id", client.ID), zap.Int64("total", h.count.Load()))
}

func (h *SessionHub) deliver(msg sessionMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[msg.sessionID] {
		select {
		case client.Send <- msg.data:
		default:
			h.dropped.Inc()
			h.logger.Warn("client send buffer full", zap.String("client_id", client.ID))
		}
	}
}

func (h *SessionHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, set := range h.clients {
		for _, client := range set {
			close(client.Send)
		}
		delete(h.clients, sessionID)
	}
	h.count.Store(0)
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}

// readPump discards client messages and unregisters on disconnect
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(512)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("unexpected close", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}
