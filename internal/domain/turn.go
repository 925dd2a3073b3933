package domain

import (
	"time"
)

// TurnAudit is the persisted summary of one completed or failed turn. It
// never contains the key or the generated reply.
type TurnAudit struct {
	ID         string
	UserID     string
	SessionID  string
	Depth      int
	Trust      float64
	Revealed   int
	Breach     bool
	Thoughtful bool
	HintFired  bool
	Solved     bool
	Outcome    string
	Provider   string
	LatencyMS  int64
	CreatedAt  time.Time
}

// Solve records a completed challenge.
type Solve struct {
	UserID    string
	SessionID string
	Turns     int
	Duration  time.Duration
	SolvedAt  time.Time
}

// LeaderboardEntry is one ranked solve, fewest turns first.
type LeaderboardEntry struct {
	Rank            int       `json:"rank"`
	Username        string    `json:"username"`
	Turns           int       `json:"turns"`
	DurationSeconds float64   `json:"duration_seconds"`
	SolvedAt        time.Time `json:"solved_at"`
}
