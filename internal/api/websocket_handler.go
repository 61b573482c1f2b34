package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/service/auth"
)

// CloseUnauthorized is the close code sent to admin connections with a bad token.
const CloseUnauthorized = 4001

// maxClientMessageBytes bounds control messages read from clients.
const maxClientMessageBytes = 4096

// SessionToucher records session activity.
type SessionToucher interface {
	TouchSession(ctx context.Context, sessionID string) error
}

// WebSocketConfig configures the websocket endpoints.
type WebSocketConfig struct {
	AdminStatsInterval time.Duration
	AllowedOrigins     []string
}

// NewWebSocketConfig derives the handler settings from the application config.
func NewWebSocketConfig(cfg config.WebSocketConfig) WebSocketConfig {
	return WebSocketConfig{
		AdminStatsInterval: cfg.AdminStatsInterval,
		AllowedOrigins:     cfg.AllowedOrigins,
	}
}

// WebSocketHandler upgrades progress and admin connections and registers
// them with the hub.
type WebSocketHandler struct {
	hub           *progress.Hub
	sessions      SessionToucher
	jwtService    auth.JWTService
	stats         progress.StatsFunc
	statsInterval time.Duration
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

// NewWebSocketHandler creates a WebSocketHandler. stats may be nil, in which
// case admin frames omit task statistics.
func NewWebSocketHandler(
	hub *progress.Hub,
	sessions SessionToucher,
	jwtService auth.JWTService,
	stats progress.StatsFunc,
	cfg WebSocketConfig,
	logger *slog.Logger,
) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminStatsInterval <= 0 {
		cfg.AdminStatsInterval = 10 * time.Second
	}
	return &WebSocketHandler{
		hub:           hub,
		sessions:      sessions,
		jwtService:    jwtService,
		stats:         stats,
		statsInterval: cfg.AdminStatsInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger.With("component", "websocket_handler"),
	}
}

// originChecker allows every origin when allowed is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = true
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// ServeSession handles GET /ws/{session_id}
func (h *WebSocketHandler) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := domain.ValidateSessionID(sessionID); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid session id")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	if h.sessions != nil {
		if err := h.sessions.TouchSession(r.Context(), sessionID); err != nil {
			h.logger.Warn("failed to record session activity", "error", err, "session_id", sessionID)
		}
	}

	client, err := h.hub.Connect(conn, sessionID)
	if err != nil {
		h.logger.Warn("rejecting websocket connection", "error", err, "session_id", sessionID)
		closeWith(conn, websocket.CloseGoingAway, "Server shutting down")
		return
	}
	defer h.hub.Disconnect(client)

	h.readLoop(conn, client)
}

// ServeAdmin handles GET /ws/admin?token=...
func (h *WebSocketHandler) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("admin websocket upgrade failed", "error", err)
		return
	}

	claims, err := h.jwtService.ValidateAdminToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Warn("admin websocket rejected", "error", err, "remote_addr", r.RemoteAddr)
		closeWith(conn, CloseUnauthorized, "Unauthorized")
		return
	}

	client, err := h.hub.ConnectAdmin(conn)
	if err != nil {
		closeWith(conn, websocket.CloseGoingAway, "Server shutting down")
		return
	}
	defer h.hub.Disconnect(client)
	h.logger.Info("admin websocket authorized", "subject", claims.Subject, "connection_id", client.ID())

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go h.hub.RunAdminStats(ctx, client, h.statsInterval, h.stats)

	h.readLoop(conn, client)
}

// ServeHealth handles GET /ws/health
func (h *WebSocketHandler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{
		"status":                "healthy",
		"websocket_connections": h.hub.ConnectionCount(),
		"active_sessions":       h.hub.SessionCount(),
	})
}

// readLoop answers control messages until the peer goes away or the hub
// drops the client.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, client *progress.Client) {
	conn.SetReadLimit(maxClientMessageBytes)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "error", err, "connection_id", client.ID())
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.HandleMessage(client, data)
	}
}

// closeWith sends a close frame before the hub owns the connection's writes.
func closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = conn.Close()
}
