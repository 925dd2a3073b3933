package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/identity"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// maxRequestBodySize bounds the JSON body of a turn request.
	maxRequestBodySize = 16 << 10
	// MaxMessageRunes is the longest utterance accepted.
	MaxMessageRunes = 2000

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// TurnRequest is the body of POST /api/game/turn.
type TurnRequest struct {
	Message string `json:"message"`
}

// TurnResponse is returned for a completed turn and, with Error set, for a
// turn rejected because the game is already solved.
type TurnResponse struct {
	session.Reply
	Error string `json:"error,omitempty"`
}

// GameView is the full state of a player's game.
type GameView struct {
	SessionID      string        `json:"session_id"`
	Metrics        game.Snapshot `json:"metrics"`
	History        []llm.Message `json:"history"`
	Solved         bool          `json:"solved"`
	Congratulation string        `json:"congratulation,omitempty"`
}

// GameHandler serves the game API.
type GameHandler struct {
	*Handler
	limiter  *RateLimiter
	provider string
}

// NewGameHandler creates a GameHandler. Turns are limited per user by limiter.
func NewGameHandler(base *Handler, limiter *RateLimiter) *GameHandler {
	provider := ""
	if gen := base.sessions.Generator(); gen != nil {
		provider = gen.Name()
	}
	return &GameHandler{Handler: base, limiter: limiter, provider: provider}
}

// RegisterRoutes registers the game routes.
func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Route("/game", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Post("/turn", h.PostTurn)
			r.Post("/reset", h.PostReset)
		})
	})
}

// GetMe returns the current user's information.
func (h *GameHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns the game configuration for the frontend. The key itself
// is never exposed, only its length.
func (h *GameHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	rules := h.sessions.Rules()
	JSON(w, http.StatusOK, map[string]any{
		"provider":            h.provider,
		"key_length":          rules.KeyLength(),
		"cooldown_seconds":    rules.Cooldown.Seconds(),
		"max_message_length":  MaxMessageRunes,
		"require_full_reveal": rules.RequireFullReveal,
	})
}

// GetGame returns the state and history of the caller's game, creating it
// on first use.
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	JSON(w, http.StatusOK, ViewOf(h.sessions.Get(userID, sessionID)))
}

// PostReset discards the caller's game and starts a fresh one.
func (h *GameHandler) PostReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	JSON(w, http.StatusOK, ViewOf(h.sessions.Reset(userID, sessionID)))
}

// PostTurn submits one player message to the gatekeeper.
func (h *GameHandler) PostTurn(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, msg := ValidateMessage(req.Message)
	if status != http.StatusOK {
		Error(w, status, msg)
		return
	}

	h.logger.Info("Game turn request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	reply, err := h.sessions.Get(userID, sessionID).HandleTurn(r.Context(), req.Message)
	if err != nil {
		status, msg := TurnErrorStatus(err)
		if errors.Is(err, session.ErrSolved) {
			JSON(w, status, TurnResponse{Reply: reply, Error: msg})
			return
		}
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, TurnResponse{Reply: reply})
}

// GetLeaderboard returns the fastest solves.
func (h *GameHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := h.repo.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to load leaderboard", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ValidateMessage checks a player message before it reaches a session.
// It returns http.StatusOK when the message is acceptable.
func ValidateMessage(msg string) (int, string) {
	if strings.TrimSpace(msg) == "" {
		return http.StatusBadRequest, "message is required"
	}
	if utf8.RuneCountInString(msg) > MaxMessageRunes {
		return http.StatusRequestEntityTooLarge, "message too long"
	}
	return http.StatusOK, ""
}

// ViewOf renders the display state of s.
func ViewOf(s *session.Session) GameView {
	snap := s.Snapshot()
	view := GameView{
		SessionID: s.ID(),
		Metrics:   snap,
		History:   s.History(),
		Solved:    snap.Solved,
	}
	if snap.Solved {
		view.Congratulation = s.Congratulation()
	}
	return view
}
