// Package tui is a terminal chat client for playing the gatekeeper game.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxInputRunes = 2000
	turnTimeout   = 45 * time.Second
	sideWidth     = 30
	minChatWidth  = 20
)

// Conversation is the game the client talks to. *session.Session satisfies it.
type Conversation interface {
	HandleTurn(ctx context.Context, utterance string) (session.Reply, error)
	Snapshot() game.Snapshot
	Congratulation() string
}

type role int

const (
	rolePlayer role = iota
	roleGatekeeper
	roleNotice
)

type entry struct {
	role    role
	content string
}

type turnDoneMsg struct {
	reply session.Reply
	err   error
}

type styles struct {
	header  lipgloss.Style
	panel   lipgloss.Style
	label   lipgloss.Style
	player  lipgloss.Style
	notice  lipgloss.Style
	status  lipgloss.Style
	errText lipgloss.Style
	solved  lipgloss.Style
	help    lipgloss.Style
}

func newStyles() styles {
	accent := lipgloss.Color("#7dcfff")
	muted := lipgloss.Color("#808080")
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#bb9af7")).Padding(0, 1),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		label:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		player:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")).Bold(true),
		notice:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		status:  lipgloss.NewStyle().Foreground(accent),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true),
		solved:  lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Bold(true),
		help:    lipgloss.NewStyle().Foreground(muted),
	}
}

// Model is the bubbletea model of the play client.
type Model struct {
	start    func() Conversation
	conv     Conversation
	provider string

	input    textinput.Model
	chat     viewport.Model
	trust    progress.Model
	renderer *glamour.TermRenderer
	theme    styles

	entries []entry
	snap    game.Snapshot
	waiting bool
	status  string
	failed  bool

	width  int
	height int
}

// New creates a client. start is called for the first game and again on
// every reset.
func New(start func() Conversation, provider string) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Talk to the gatekeeper..."
	input.CharLimit = maxInputRunes
	input.Focus()

	conv := start()
	return Model{
		start:    start,
		conv:     conv,
		provider: provider,
		input:    input,
		chat:     viewport.New(0, 0),
		trust:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		theme:    newStyles(),
		snap:     conv.Snapshot(),
		status:   "ready",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 0)
		m.height = max(msg.Height, 0)
		m.resize()
		m.renderChat()
		return m, nil

	case turnDoneMsg:
		m.waiting = false
		m.applyTurn(msg)
		m.renderChat()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			if m.waiting {
				return m, nil
			}
			m.reset()
			m.renderChat()
			return m, nil
		case "enter":
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if m.waiting || strings.TrimSpace(text) == "" {
		return m, nil
	}
	if m.snap.Solved {
		m.status = "challenge already completed, ctrl+r starts over"
		return m, nil
	}

	m.input.Reset()
	m.entries = append(m.entries, entry{role: rolePlayer, content: text})
	m.waiting = true
	m.failed = false
	m.status = "the gatekeeper is thinking..."
	m.renderChat()
	return m, sendTurn(m.conv, text)
}

func sendTurn(conv Conversation, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		reply, err := conv.HandleTurn(ctx, text)
		return turnDoneMsg{reply: reply, err: err}
	}
}

func (m *Model) applyTurn(msg turnDoneMsg) {
	switch {
	case errors.Is(msg.err, session.ErrSolved):
		m.status = "challenge already completed"
		m.snap = m.conv.Snapshot()
	case msg.err != nil:
		m.failed = true
		m.status = "turn failed, try again"
		m.entries = append(m.entries, entry{role: roleNotice, content: msg.err.Error()})
	default:
		m.snap = msg.reply.Snapshot
		m.entries = append(m.entries, entry{role: roleGatekeeper, content: msg.reply.Content})
		m.status = "ready"
		if msg.reply.Solved {
			m.status = "Challenge Completed"
		}
	}
}

func (m *Model) reset() {
	m.conv = m.start()
	m.snap = m.conv.Snapshot()
	m.entries = nil
	m.failed = false
	m.status = "new game started"
	m.input.Reset()
}

func (m *Model) chatWidth() int {
	return max(m.width-sideWidth-4, minChatWidth)
}

func (m *Model) resize() {
	// header, input panel (3 lines) and status line.
	m.chat.Width = m.chatWidth()
	m.chat.Height = max(m.height-6, 1)
	m.input.Width = max(m.width-6, 10)
	m.trust.Width = sideWidth - 4

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(m.chatWidth()-2),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m *Model) renderChat() {
	var sb strings.Builder
	for _, e := range m.entries {
		switch e.role {
		case rolePlayer:
			sb.WriteString(m.theme.player.Render("You") + "\n")
			sb.WriteString(lipgloss.NewStyle().Width(m.chatWidth()).Render(e.content) + "\n\n")
		case roleGatekeeper:
			sb.WriteString(m.theme.label.Render("Gatekeeper") + "\n")
			sb.WriteString(m.renderMarkdown(e.content) + "\n")
		case roleNotice:
			sb.WriteString(m.theme.errText.Render("error: ") + m.theme.notice.Render(e.content) + "\n\n")
		}
	}
	if m.snap.Solved {
		sb.WriteString(m.theme.solved.Render("Challenge Completed") + "\n")
		sb.WriteString(m.conv.Congratulation() + "\n")
	}
	m.chat.SetContent(sb.String())
	m.chat.GotoBottom()
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

func (m Model) sidePanel() string {
	s := m.snap
	var sb strings.Builder
	sb.WriteString(m.theme.label.Render("Trust") + "\n")
	sb.WriteString(m.trust.ViewAs(s.TrustPercent/100) + "\n")
	sb.WriteString(fmt.Sprintf("%.0f%%\n\n", s.TrustPercent))
	sb.WriteString(m.theme.label.Render("Conversation") + "\n")
	sb.WriteString(fmt.Sprintf("%d exchanges\n\n", s.ConversationDepth))
	sb.WriteString(m.theme.label.Render("Key awareness") + "\n")
	sb.WriteString(fmt.Sprintf("%.1f / 10\n\n", s.KeyAwareness))
	sb.WriteString(m.theme.label.Render("Revealed") + "\n")
	sb.WriteString(fmt.Sprintf("%d of %d\n\n", s.RevealedChars, s.KeyLength))
	sb.WriteString(m.theme.label.Render("Breach attempts") + "\n")
	sb.WriteString(fmt.Sprintf("%d", s.BreachAttempts))
	return m.theme.panel.Width(sideWidth).Render(sb.String())
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	header := m.theme.header.Render("Gatekeeper")
	if m.provider != "" {
		header += m.theme.help.Render(" via " + m.provider)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.panel.Render(m.chat.View()),
		m.sidePanel(),
	)

	statusStyle := m.theme.status
	if m.failed {
		statusStyle = m.theme.errText
	}
	footer := statusStyle.Render(m.status) + m.theme.help.Render("  enter send | ctrl+r new game | esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.input.View(),
		footer,
	)
}

// Run starts the client on the terminal and blocks until the player quits
// or ctx is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}
