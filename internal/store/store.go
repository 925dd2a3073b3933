// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/gatekeeper/internal/domain"
)

// Repository persists players, the turn audit trail and solves. Live game
// state is held in memory by the session manager and never stored.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// RecordTurn appends one turn to the audit trail.
	RecordTurn(ctx context.Context, turn *domain.TurnAudit) error

	// RecordSolve stores a completed challenge.
	RecordSolve(ctx context.Context, solve *domain.Solve) error

	// Leaderboard returns up to limit solves ranked by fewest turns, then
	// shortest duration.
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)

	// CleanupTurns removes audit rows older than the retention period.
	CleanupTurns(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
