package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/llm"
)

const sweepInterval = time.Minute

// Gauge receives the number of live sessions. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Rules     game.Rules
	Generator llm.Generator
	Clock     game.Clock
	// NewRand returns the random source for a new session. Nil means a
	// freshly seeded source per session.
	NewRand  func() game.RandSource
	Observer Observer
	Active   Gauge
	Logger   *slog.Logger
}

// Manager holds the live sessions keyed by user and tab session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     ManagerOptions
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = game.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Get returns the session for userID/sessionID, creating it on first use.
func (m *Manager) Get(userID, sessionID string) *Session {
	key := sessionKey(userID, sessionID)

	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s = m.newSessionLocked(userID, sessionID)
	m.sessions[key] = s
	m.reportLocked()
	m.opts.Logger.Info("Game session started", "user_id", userID, "session_id", sessionID)
	return s
}

// Peek returns the session without creating one.
func (m *Manager) Peek(userID, sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey(userID, sessionID)]
	return s, ok
}

// Reset replaces the session with a fresh one and returns it.
func (m *Manager) Reset(userID, sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.newSessionLocked(userID, sessionID)
	m.sessions[sessionKey(userID, sessionID)] = s
	m.reportLocked()
	m.opts.Logger.Info("Game session reset", "user_id", userID, "session_id", sessionID)
	return s
}

// Remove drops every session belonging to userID.
func (m *Manager) Remove(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, s := range m.sessions {
		if s.UserID() == userID {
			delete(m.sessions, key)
			removed++
		}
	}
	m.reportLocked()
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Rules returns the rules applied to new sessions.
func (m *Manager) Rules() game.Rules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.Rules
}

// SetRules swaps the rules for sessions created from now on. Running
// sessions keep the rules they started with.
func (m *Manager) SetRules(rules game.Rules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Rules = rules
}

// Generator returns the completion backend shared by all sessions.
func (m *Manager) Generator() llm.Generator {
	return m.opts.Generator
}

func (m *Manager) newSessionLocked(userID, sessionID string) *Session {
	var src game.RandSource
	if m.opts.NewRand != nil {
		src = m.opts.NewRand()
	}
	return New(userID, sessionID, Options{
		Rules:     m.opts.Rules,
		Generator: m.opts.Generator,
		Clock:     m.opts.Clock,
		Rand:      src,
		Observer:  m.opts.Observer,
		Logger:    m.opts.Logger,
	})
}

func (m *Manager) reportLocked() {
	if m.opts.Active != nil {
		m.opts.Active.Set(float64(len(m.sessions)))
	}
}

// Sweep removes sessions idle for longer than ttl and returns how many.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.opts.Clock.Now().Add(-ttl)

	// Snapshot first: LastActive waits on any turn in flight and the map
	// lock must not be held across that.
	m.mu.RLock()
	candidates := make(map[string]*Session, len(m.sessions))
	for key, s := range m.sessions {
		candidates[key] = s
	}
	m.mu.RUnlock()

	var idle []string
	for key, s := range candidates {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, key := range idle {
		// Skip entries replaced by Reset since the snapshot.
		if m.sessions[key] == candidates[key] {
			delete(m.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		m.reportLocked()
	}
	return removed
}

// RunSweeper evicts idle sessions every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, ttl, interval time.Duration) error {
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.opts.Logger.Info("Session sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(ttl); n > 0 {
				m.opts.Logger.Info("Session sweeper evicted idle sessions", "count", n, "remaining", m.Len())
			}
		case <-ctx.Done():
			m.opts.Logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
