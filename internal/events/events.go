// Package events publishes game events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the subject root; the turn outcome is appended.
const SubjectPrefix = "gatekeeper.turn"

// Publisher is the part of *nats.Conn the emitter uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// TurnEvent is the payload published for every turn. It carries metrics
// only: neither the utterance, the reply nor the key leave the server.
type TurnEvent struct {
	TurnID            string    `json:"turn_id"`
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	Outcome           string    `json:"outcome"`
	Provider          string    `json:"provider"`
	ConversationDepth int       `json:"conversation_depth"`
	TrustLevel        float64   `json:"trust_level"`
	RevealedChars     int       `json:"revealed_chars"`
	BreachAttempts    int       `json:"security_breach_attempts"`
	Breach            bool      `json:"breach"`
	Thoughtful        bool      `json:"thoughtful"`
	LatencyMS         int64     `json:"latency_ms"`
	SolveSeconds      float64   `json:"solve_seconds,omitempty"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Subject returns the subject for outcome.
func Subject(outcome string) string {
	return SubjectPrefix + "." + outcome
}

// Connect dials the NATS server at url with reconnect handling logged
// through logger.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("gatekeeper"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Emitter publishes a TurnEvent per turn. It implements session.Observer.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

// NewEmitter creates an emitter publishing through pub.
func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger}
}

// OnTurn publishes rec. Publish failures are logged only.
func (e *Emitter) OnTurn(_ context.Context, rec session.TurnRecord) {
	ev := TurnEvent{
		TurnID:            rec.ID,
		UserID:            rec.UserID,
		SessionID:         rec.SessionID,
		Outcome:           rec.Outcome(),
		Provider:          rec.Provider,
		ConversationDepth: rec.Snapshot.ConversationDepth,
		TrustLevel:        rec.Snapshot.TrustLevel,
		RevealedChars:     rec.Snapshot.RevealedChars,
		BreachAttempts:    rec.Snapshot.BreachAttempts,
		Breach:            rec.Signals.Breach,
		Thoughtful:        rec.Signals.Thoughtful,
		LatencyMS:         rec.CompletionTime.Milliseconds(),
		SolveSeconds:      rec.SolveDuration.Seconds(),
		Timestamp:         rec.StartedAt.UTC(),
	}
	if rec.Err != nil {
		ev.Error = rec.Err.Error()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("Failed to marshal turn event", "turn_id", rec.ID, "error", err)
		return
	}
	subject := Subject(ev.Outcome)
	if err := e.pub.Publish(subject, data); err != nil {
		e.logger.Warn("Failed to publish turn event", "subject", subject, "turn_id", rec.ID, "error", err)
	}
}
