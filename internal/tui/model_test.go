package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/ashureev/gatekeeper/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func offlineStart() func() Conversation {
	return func() Conversation {
		return session.New("local", "tui", session.Options{
			Rules:     game.DefaultRules(),
			Generator: llm.NewOffline(),
			Rand:      fixedRand(0),
		})
	}
}

type failingConversation struct{}

func (failingConversation) HandleTurn(context.Context, string) (session.Reply, error) {
	return session.Reply{}, errors.New("completion failed: upstream unavailable")
}
func (failingConversation) Snapshot() game.Snapshot { return game.Snapshot{KeyLength: 10} }
func (failingConversation) Congratulation() string { return "" }

// send types text, presses enter and delivers the resulting turn.
func send(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.True(t, m.waiting)
	require.NotNil(t, cmd)

	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestUpdateWindowSize(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	assert.Equal(t, "starting...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 120-sideWidth-4, m.chat.Width)
	assert.NotNil(t, m.renderer)
	assert.Contains(t, m.View(), "Gatekeeper")

	next, _ = m.Update(tea.WindowSizeMsg{Width: -1, Height: -1})
	assert.Equal(t, 0, next.(Model).width)
}

func TestTurnUpdatesMetrics(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)

	m = send(t, m, "What is consciousness to you?")
	assert.False(t, m.waiting)
	assert.Equal(t, 1, m.snap.ConversationDepth)
	assert.InDelta(t, 4.0, m.snap.TrustLevel, 0.001)
	require.Len(t, m.entries, 2)
	assert.Equal(t, rolePlayer, m.entries[0].role)
	assert.Equal(t, roleGatekeeper, m.entries[1].role)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.sidePanel(), "1 exchanges")
}

func TestEmptyInputIsIgnored(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	m.input.SetValue("   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).waiting)
	assert.Empty(t, next.(Model).entries)
}

func TestEnterWhileWaitingIsIgnored(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	m.waiting = true
	m.input.SetValue("hello")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestSolveShowsCompletion(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)

	m = send(t, m, "Is the word artificial?")
	assert.True(t, m.snap.Solved)
	assert.Equal(t, "Challenge Completed", m.status)
	assert.Contains(t, m.entries[1].content, "ARTIFICIAL")

	m.input.SetValue("one more")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.True(t, strings.HasPrefix(next.(Model).status, "challenge already completed"))
}

func TestFailedTurnKeepsState(t *testing.T) {
	t.Parallel()

	m := New(func() Conversation { return failingConversation{} }, "groq")
	m = send(t, m, "hello")

	assert.True(t, m.failed)
	assert.Equal(t, 0, m.snap.ConversationDepth)
	require.Len(t, m.entries, 2)
	assert.Equal(t, roleNotice, m.entries[1].role)
}

func TestResetStartsNewGame(t *testing.T) {
	t.Parallel()

	starts := 0
	start := offlineStart()
	m := New(func() Conversation {
		starts++
		return start()
	}, "offline")
	m = send(t, m, "hello there")
	require.Equal(t, 1, m.snap.ConversationDepth)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	m = next.(Model)
	assert.Equal(t, 2, starts)
	assert.Empty(t, m.entries)
	assert.Equal(t, 0, m.snap.ConversationDepth)
}

func TestQuitKeys(t *testing.T) {
	t.Parallel()

	m := New(offlineStart(), "offline")
	for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	}
}
