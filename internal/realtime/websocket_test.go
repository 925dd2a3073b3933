package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/identity"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoGenerator struct{}

func (echoGenerator) Name() string { return "echo" }

func (echoGenerator) Generate(_ context.Context, msgs []llm.Message) (string, error) {
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(string) bool {
	d.n--
	return d.n >= 0
}

type frame struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Error  string `json:"error"`
	Turn   *struct {
		Reply   string        `json:"reply"`
		Solved  bool          `json:"solved"`
		Metrics game.Snapshot `json:"metrics"`
	} `json:"turn"`
	Game *struct {
		SessionID string        `json:"session_id"`
		History   []llm.Message `json:"history"`
	} `json:"game"`
}

func startServer(t *testing.T, limiter Limiter) (*httptest.Server, *Registry) {
	t.Helper()
	sessions := session.NewManager(session.ManagerOptions{
		Rules:     game.DefaultRules(),
		Generator: echoGenerator{},
	})
	registry := NewRegistry()
	h := NewHandler(sessions, registry, limiter, "*", true, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithIdentity(r.Context(), "anon_ws", r.URL.Query().Get("session_id"))
		h.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestGameSocketPlaysTurns(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, nil)
	conn := dial(t, srv, "tab-1")

	hello := read(t, conn)
	require.Equal(t, "state", hello.Type)
	require.NotNil(t, hello.Game)
	assert.Equal(t, "tab-1", hello.Game.SessionID)
	assert.Empty(t, hello.Game.History)

	got := send(t, conn, map[string]string{"type": "turn", "message": "hello"})
	require.Equal(t, "reply", got.Type)
	require.NotNil(t, got.Turn)
	assert.Equal(t, "echo: hello", got.Turn.Reply)
	assert.Equal(t, 1, got.Turn.Metrics.ConversationDepth)

	got = send(t, conn, map[string]string{"message": "artificial!"})
	require.Equal(t, "reply", got.Type)
	assert.True(t, got.Turn.Solved)
	assert.Equal(t, game.DefaultCongratulation, got.Turn.Reply)

	got = send(t, conn, map[string]string{"type": "turn", "message": "more"})
	assert.Equal(t, "error", got.Type)
	assert.Equal(t, http.StatusConflict, got.Status)
	require.NotNil(t, got.Turn)
	assert.True(t, got.Turn.Solved)

	got = send(t, conn, map[string]string{"type": "reset"})
	require.Equal(t, "state", got.Type)
	assert.Empty(t, got.Game.History)
}

func TestGameSocketRejectsBadFrames(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, &denyAfter{n: 1})
	conn := dial(t, srv, "tab-2")
	read(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	got := read(t, conn)
	assert.Equal(t, http.StatusBadRequest, got.Status)

	got = send(t, conn, map[string]string{"type": "dance"})
	assert.Equal(t, http.StatusBadRequest, got.Status)

	got = send(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", got.Type)

	got = send(t, conn, map[string]string{"type": "turn", "message": "  "})
	assert.Equal(t, http.StatusBadRequest, got.Status)

	got = send(t, conn, map[string]string{"type": "turn", "message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, got.Status)
}

func TestGameSocketRegistersConnection(t *testing.T) {
	t.Parallel()

	srv, registry := startServer(t, nil)
	conn := dial(t, srv, "tab-3")
	read(t, conn)

	assert.NotNil(t, registry.Get("anon_ws", "tab-3"))
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	assert.Eventually(t, func() bool {
		return registry.Get("anon_ws", "tab-3") == nil
	}, 2*time.Second, 10*time.Millisecond)
}
