package session

import (
	"context"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
)

// TurnRecord describes one processed turn for observers. Err is set when the
// completion failed and nothing was committed.
type TurnRecord struct {
	ID             string
	UserID         string
	SessionID      string
	Utterance      string
	Reply          string
	Signals        game.Signals
	HintFired      bool
	Solved         bool
	Snapshot       game.Snapshot
	Provider       string
	StartedAt      time.Time
	CompletionTime time.Duration
	SolveDuration  time.Duration
	Err            error
}

// Outcome classifies the turn for metrics and event subjects.
func (r TurnRecord) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Solved:
		return "solved"
	case r.HintFired:
		return "hint"
	default:
		return "withheld"
	}
}

// Observer is notified after every turn, outside the session lock.
// Implementations must not block for long and must not fail the turn.
type Observer interface {
	OnTurn(ctx context.Context, rec TurnRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec TurnRecord)

// OnTurn calls f.
func (f ObserverFunc) OnTurn(ctx context.Context, rec TurnRecord) { f(ctx, rec) }

// Observers fans a turn out to every member in order.
type Observers []Observer

// OnTurn notifies each observer.
func (o Observers) OnTurn(ctx context.Context, rec TurnRecord) {
	for _, obs := range o {
		if obs != nil {
			obs.OnTurn(ctx, rec)
		}
	}
}
