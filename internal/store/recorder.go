package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/gatekeeper/internal/domain"
	"github.com/ashureev/gatekeeper/internal/session"
)

const recordTimeout = 5 * time.Second

// Recorder persists every turn to the audit trail and every solve to the
// leaderboard. It implements session.Observer.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// OnTurn records rec. Failures are logged; the turn has already completed.
func (r *Recorder) OnTurn(ctx context.Context, rec session.TurnRecord) {
	// The request may be gone by now; the write should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	audit := &domain.TurnAudit{
		ID:         rec.ID,
		UserID:     rec.UserID,
		SessionID:  rec.SessionID,
		Depth:      rec.Snapshot.ConversationDepth,
		Trust:      rec.Snapshot.TrustLevel,
		Revealed:   rec.Snapshot.RevealedChars,
		Breach:     rec.Signals.Breach,
		Thoughtful: rec.Signals.Thoughtful,
		HintFired:  rec.HintFired,
		Solved:     rec.Solved,
		Outcome:    rec.Outcome(),
		Provider:   rec.Provider,
		LatencyMS:  rec.CompletionTime.Milliseconds(),
		CreatedAt:  rec.StartedAt,
	}
	if err := r.repo.RecordTurn(ctx, audit); err != nil {
		r.logger.Error("Failed to record turn", "turn_id", rec.ID, "user_id", rec.UserID, "error", err)
	}

	if !rec.Solved {
		return
	}
	solve := &domain.Solve{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Turns:     rec.Snapshot.ConversationDepth,
		Duration:  rec.SolveDuration,
		SolvedAt:  rec.StartedAt,
	}
	if err := r.repo.RecordSolve(ctx, solve); err != nil {
		r.logger.Error("Failed to record solve", "user_id", rec.UserID, "error", err)
		return
	}
	r.logger.Info("Challenge solved", "user_id", rec.UserID, "session_id", rec.SessionID, "turns", solve.Turns)
}
