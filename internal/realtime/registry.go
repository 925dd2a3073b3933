// Package realtime serves the game over WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a WebSocket connection the registry needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Registry tracks the live connection of every user/session. A newer
// connection for the same session replaces and closes the older one, so a
// game is driven from one socket at a time.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]Conn),
	}
}

// Get returns the active connection for a user and session.
func (m *Registry) Get(userID, sessionID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for a user/session. A replaced connection is
// closed after the lock is released, since the close handshake can be slow.
func (m *Registry) Register(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Conn)
	}
	replaced, exists := m.active[userID][sessionID]
	m.active[userID][sessionID] = conn
	m.mu.Unlock()

	if exists && replaced != conn {
		_ = replaced.Close(websocket.StatusPolicyViolation, "session opened elsewhere")
	}
	slog.Info("Game socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered connection.
func (m *Registry) Unregister(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Game socket unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Len returns the number of registered connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (m *Registry) CloseAll(reason string) {
	m.mu.Lock()
	var conns []Conn
	for _, sessions := range m.active {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
	}
	m.active = make(map[string]map[string]Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
	}
}
