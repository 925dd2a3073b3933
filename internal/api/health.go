package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/gatekeeper/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker is a dependency that can report its own health. The gRPC
// completion backend implements it.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo       store.Repository
	completion HealthChecker
}

// NewHealthHandler creates a new health handler. completion may be nil.
func NewHealthHandler(repo store.Repository, completion HealthChecker) *HealthHandler {
	return &HealthHandler{repo: repo, completion: completion}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// The completion backend degrades the game but not the API.
	if h.completion != nil {
		if ok, err := h.completion.Health(ctx); err != nil || !ok {
			slog.Warn("Completion backend unhealthy", "error", err)
			checks["completion"] = "unavailable"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["completion"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
