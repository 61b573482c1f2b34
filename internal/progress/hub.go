package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/manga-api/internal/platform/logger"
)

// ErrHubClosed is returned by Connect after Close.
var ErrHubClosed = errors.New("progress hub is closed")

// Conn is the write side of a websocket connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// HubConfig tunes connection handling.
type HubConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
}

// DefaultHubConfig returns the production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        32,
	}
}

// Hub is the registry of live connections grouped by session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	admins   map[*Client]struct{}
	closed   bool

	cfg    HubConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, log *slog.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]map[*Client]struct{}),
		admins:   make(map[*Client]struct{}),
		cfg:      cfg,
		logger:   log.With("component", "progress_hub"),
		now:      time.Now,
	}
}

// Client is one registered connection.
type Client struct {
	id        uuid.UUID
	hub       *Hub
	conn      Conn
	sessionID string
	admin     bool
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	subMu         sync.Mutex
	subscriptions map[string]struct{}
}

// ID identifies the connection in logs.
func (c *Client) ID() uuid.UUID { return c.id }

// SessionID returns the session the connection belongs to. Empty for admin connections.
func (c *Client) SessionID() string { return c.sessionID }

// Done is closed when the connection has been deregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscriptions returns the task IDs the client asked about. They do not
// filter delivery.
func (c *Client) Subscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

func (h *Hub) newClient(conn Conn, sessionID string, admin bool) *Client {
	return &Client{
		id:            uuid.New(),
		hub:           h,
		conn:          conn,
		sessionID:     sessionID,
		admin:         admin,
		send:          make(chan []byte, h.cfg.SendBuffer),
		done:          make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
}

// Connect registers conn under sessionID, queues the welcome frame and
// starts the connection's writer and heartbeat.
func (h *Hub) Connect(conn Conn, sessionID string) (*Client, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	c := h.newClient(conn, sessionID, false)
	c.enqueue(h.encode(welcomeFrame(sessionID, h.now())))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[sessionID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	h.logger.Info("websocket connected",
		"session_id", sessionID,
		"connection_id", c.id,
		"session_connections", h.SessionConnectionCount(sessionID))
	return c, nil
}

// ConnectAdmin registers a monitoring connection. Admin connections get
// heartbeats but no session events and are not counted as sessions.
func (h *Hub) ConnectAdmin(conn Conn) (*Client, error) {
	c := h.newClient(conn, "", true)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.admins[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	h.logger.Info("admin websocket connected", "connection_id", c.id)
	return c, nil
}

// Disconnect deregisters c and closes its connection. The session entry
// disappears with its last connection. Safe to call repeatedly.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if c.admin {
		delete(h.admins, c)
	} else if set, ok := h.sessions[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		h.logger.Info("websocket disconnected",
			"session_id", c.sessionID,
			"connection_id", c.id)
	})
}

// Publish sends update to every connection of sessionID. A session without
// connections is a silent no-op. Connections whose buffer is full are
// dropped; the others still receive the update.
func (h *Hub) Publish(ctx context.Context, sessionID string, update Update) error {
	data, err := json.Marshal(progressFrame(update, h.now()))
	if err != nil {
		return fmt.Errorf("encode progress update: %w", err)
	}

	h.mu.RLock()
	set := h.sessions[sessionID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			logger.FromContextOrDefault(ctx, h.logger).Warn("dropping slow websocket connection",
				"session_id", sessionID,
				"connection_id", c.id,
				"task_id", update.TaskID)
			h.Disconnect(c)
		}
	}
	return nil
}

// Send queues an arbitrary frame to one client. It reports false if the
// client is gone or too slow, in which case it has been disconnected.
func (h *Hub) Send(c *Client, frame Frame) bool {
	if c.enqueue(h.encode(frame)) {
		return true
	}
	h.Disconnect(c)
	return false
}

// ConnectionCount returns the number of session connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// SessionCount returns the number of sessions with at least one connection.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionConnectionCount returns the number of connections of sessionID.
func (h *Hub) SessionConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Sessions returns the connection count of every session.
func (h *Hub) Sessions() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.sessions))
	for id, set := range h.sessions {
		out[id] = len(set)
	}
	return out
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, set := range h.sessions {
		for c := range set {
			all = append(all, c)
		}
	}
	for c := range h.admins {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Disconnect(c)
	}
	h.logger.Info("progress hub closed", "disconnected", len(all))
}

func (h *Hub) encode(frame Frame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", "error", err)
		data, _ = json.Marshal(errorFrame("internal error"))
	}
	return data
}

// enqueue hands data to the writer without blocking.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump owns every write on the connection.
func (c *Client) writePump() {
	h := c.hub
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(data); err != nil {
				h.logger.Debug("websocket write failed",
					"connection_id", c.id,
					"session_id", c.sessionID,
					"error", err)
				h.Disconnect(c)
				return
			}
		case <-ticker.C:
			if err := c.write(h.encode(heartbeatFrame(h.now()))); err != nil {
				h.Disconnect(c)
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(c.hub.now().Add(c.hub.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
