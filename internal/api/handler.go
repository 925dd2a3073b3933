// Package api provides HTTP handlers for the gatekeeper API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/ashureev/gatekeeper/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		sessions: sessions,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// TurnErrorStatus maps a HandleTurn error to an HTTP status and a message
// safe to show to players.
func TurnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSolved):
		return http.StatusConflict, "challenge already completed"
	case errors.Is(err, session.ErrCompletion):
		return http.StatusBadGateway, "the gatekeeper is not answering right now, try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
