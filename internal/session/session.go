// Package session runs gatekeeper conversations: it turns each player
// utterance into trust, reveal decisions and a completion request.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/google/uuid"
)

var (
	// ErrSolved is returned for turns submitted after the key was revealed.
	ErrSolved = errors.New("challenge already completed")
	// ErrCompletion wraps failures of the completion backend. The turn is
	// not committed when it is returned.
	ErrCompletion = errors.New("completion failed")
)

// Options configures a Session.
type Options struct {
	Rules     game.Rules
	Generator llm.Generator
	Clock     game.Clock
	Rand      game.RandSource
	Observer  Observer
	Logger    *slog.Logger
}

// Reply is the outcome of one completed turn.
type Reply struct {
	TurnID    string        `json:"turn_id"`
	Content   string        `json:"reply"`
	HintFired bool          `json:"-"`
	Solved    bool          `json:"solved"`
	Signals   game.Signals  `json:"-"`
	Snapshot  game.Snapshot `json:"metrics"`
}

// Session owns the state of one conversation. Turns are serialized; separate
// sessions share nothing mutable.
type Session struct {
	mu sync.Mutex

	userID string
	id     string

	rules       game.Rules
	classifier  *game.Classifier
	accumulator *game.Accumulator
	gate        *game.Gate
	generator   llm.Generator
	clock       game.Clock
	observer    Observer
	logger      *slog.Logger

	state      game.State
	history    []llm.Message
	createdAt  time.Time
	lastActive time.Time
}

// New creates a session for userID/sessionID.
func New(userID, sessionID string, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = game.SystemClock{}
	}
	if opts.Rand == nil {
		opts.Rand = game.NewRandSource()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = Observers{}
	}

	now := opts.Clock.Now()
	return &Session{
		userID:      userID,
		id:          sessionID,
		rules:       opts.Rules,
		classifier:  game.NewClassifier(opts.Rules),
		accumulator: game.NewAccumulator(opts.Rules, opts.Rand),
		gate:        game.NewGate(opts.Rules),
		generator:   opts.Generator,
		clock:       opts.Clock,
		observer:    opts.Observer,
		logger:      opts.Logger,
		state:       game.NewState(opts.Rules, now),
		createdAt:   now,
		lastActive:  now,
	}
}

// ID returns the tab session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Congratulation returns the message shown once the key is found.
func (s *Session) Congratulation() string { return s.rules.Congratulation }

// HandleTurn processes one player utterance. All state changes are made on a
// copy and committed only when the turn completes, so a failed completion
// leaves the session exactly as it was.
func (s *Session) HandleTurn(ctx context.Context, utterance string) (Reply, error) {
	s.mu.Lock()
	record, reply, err := s.handleTurnLocked(ctx, utterance)
	s.mu.Unlock()

	if record != nil {
		s.observer.OnTurn(ctx, *record)
	}
	return reply, err
}

func (s *Session) handleTurnLocked(ctx context.Context, utterance string) (*TurnRecord, Reply, error) {
	if s.state.KeyRevealed {
		return nil, Reply{Solved: true, Content: s.rules.Congratulation, Snapshot: s.state.Snapshot()}, ErrSolved
	}

	now := s.clock.Now()
	next := s.state

	signals := s.classifier.Classify(utterance)
	s.accumulator.Apply(&next, signals)
	hintFired := s.gate.ShouldReveal(&next, now)

	record := &TurnRecord{
		ID:        uuid.NewString(),
		UserID:    s.userID,
		SessionID: s.id,
		Utterance: utterance,
		Signals:   signals,
		HintFired: hintFired,
		Provider:  s.generator.Name(),
		StartedAt: now,
	}

	solved := game.ContainsFold(utterance, next.Key()) &&
		(!s.rules.RequireFullReveal || next.RevealedChars >= next.KeyLength())

	var content string
	if solved {
		// The completion would be discarded, so it is not requested.
		content = s.rules.Congratulation
		next.KeyRevealed = true
	} else {
		messages := BuildMessages(s.rules.SystemPrompt, s.history, ContextMessage(&next, hintFired), utterance)
		start := time.Now()
		reply, err := s.generator.Generate(ctx, messages)
		record.CompletionTime = time.Since(start)
		if err != nil {
			s.logger.Warn("Completion failed, turn not committed",
				"user_id", s.userID,
				"session_id", s.id,
				"provider", s.generator.Name(),
				"error", err,
			)
			record.Err = err
			record.Snapshot = s.state.Snapshot()
			return record, Reply{Snapshot: s.state.Snapshot()}, fmt.Errorf("%w: %w", ErrCompletion, err)
		}
		content = reply
	}

	next.ConversationDepth++

	s.state = next
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: utterance},
		llm.Message{Role: llm.RoleAssistant, Content: content},
	)
	s.lastActive = now

	record.Reply = content
	record.Solved = solved
	record.Snapshot = next.Snapshot()
	if solved {
		record.SolveDuration = now.Sub(s.createdAt)
	}

	s.logger.Info("Turn completed",
		"user_id", s.userID,
		"session_id", s.id,
		"depth", next.ConversationDepth,
		"hint_fired", hintFired,
		"solved", solved,
		"breach", signals.Breach,
		"thoughtful", signals.Thoughtful,
	)

	return record, Reply{
		TurnID:    record.ID,
		Content:   content,
		HintFired: hintFired,
		Solved:    solved,
		Signals:   signals,
		Snapshot:  record.Snapshot,
	}, nil
}

// State returns a copy of the current state.
func (s *Session) State() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the display metrics.
func (s *Session) Snapshot() game.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// History returns the displayed conversation: player and gatekeeper turns,
// without system or context messages.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// LastActive returns when the last turn completed, or creation time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
