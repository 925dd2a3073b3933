package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/gatekeeper/internal/api"
	"github.com/ashureev/gatekeeper/internal/identity"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/coder/websocket"
)

const (
	maxFrameSize = 16 << 10
	writeTimeout = 10 * time.Second
)

// Limiter decides whether userID may play another turn.
type Limiter interface {
	Allow(userID string) bool
}

// clientMessage is a frame sent by the browser.
type clientMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// serverMessage is a frame sent to the browser.
type serverMessage struct {
	Type   string         `json:"type"`
	Reply  *session.Reply `json:"turn,omitempty"`
	Game   *api.GameView  `json:"game,omitempty"`
	Status int            `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Handler serves GET /ws/game.
type Handler struct {
	sessions      *session.Manager
	registry      *Registry
	limiter       Limiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket game handler.
func NewHandler(sessions *session.Manager, registry *Registry, limiter Limiter, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:      sessions,
		registry:      registry,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxFrameSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	ctx := r.Context()
	view := api.ViewOf(h.sessions.Get(userID, sessionID))
	if err := h.write(ctx, ws, serverMessage{Type: "state", Game: &view}); err != nil {
		return
	}

	h.readLoop(ctx, ws, userID, sessionID)
	h.logger.Info("Game socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles frames one at a time, so turns from one socket are
// strictly ordered.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.write(ctx, ws, serverMessage{Type: "error", Status: http.StatusBadRequest, Error: "invalid frame"}); err != nil {
				return
			}
			continue
		}

		var out serverMessage
		switch msg.Type {
		case "ping":
			out = serverMessage{Type: "pong"}
		case "reset":
			view := api.ViewOf(h.sessions.Reset(userID, sessionID))
			out = serverMessage{Type: "state", Game: &view}
		case "turn", "":
			out = h.turn(ctx, userID, sessionID, msg.Message)
		default:
			out = serverMessage{Type: "error", Status: http.StatusBadRequest, Error: "unknown frame type"}
		}

		if err := h.write(ctx, ws, out); err != nil {
			return
		}
	}
}

func (h *Handler) turn(ctx context.Context, userID, sessionID, message string) serverMessage {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		return serverMessage{Type: "error", Status: http.StatusTooManyRequests, Error: "rate limit exceeded"}
	}
	if status, msg := api.ValidateMessage(message); status != http.StatusOK {
		return serverMessage{Type: "error", Status: status, Error: msg}
	}

	reply, err := h.sessions.Get(userID, sessionID).HandleTurn(ctx, message)
	if err != nil {
		status, msg := api.TurnErrorStatus(err)
		out := serverMessage{Type: "error", Status: status, Error: msg}
		if reply.Solved {
			out.Reply = &reply
		}
		return out
	}
	return serverMessage{Type: "reply", Reply: &reply}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v serverMessage) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
