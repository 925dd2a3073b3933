package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnTurnCountsOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()

	m.OnTurn(ctx, session.TurnRecord{Provider: "groq", HintFired: true, Signals: game.Signals{Thoughtful: true}, CompletionTime: 300 * time.Millisecond})
	m.OnTurn(ctx, session.TurnRecord{Provider: "groq", Signals: game.Signals{Breach: true}, CompletionTime: time.Second})
	m.OnTurn(ctx, session.TurnRecord{Provider: "groq", Solved: true})
	m.OnTurn(ctx, session.TurnRecord{Provider: "groq", HintFired: true, Signals: game.Signals{Breach: true}, Err: errors.New("503")})

	assert.InDelta(t, 1, testutil.ToFloat64(m.turns.WithLabelValues("hint")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.turns.WithLabelValues("withheld")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.turns.WithLabelValues("solved")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.turns.WithLabelValues("error")), 0)

	// Failed turns are not committed, so their signals do not count.
	assert.InDelta(t, 1, testutil.ToFloat64(m.reveals), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.breaches), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.solves), 0)

	assert.Equal(t, 1, testutil.CollectAndCount(m.completion))
}

func TestActiveSessionsGauge(t *testing.T) {
	t.Parallel()

	m := New()
	mgr := session.NewManager(session.ManagerOptions{Rules: game.DefaultRules(), Active: m.ActiveSessions()})
	mgr.Get("a", "1")
	mgr.Get("b", "1")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ActiveSessions()), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.OnTurn(context.Background(), session.TurnRecord{Provider: "offline", Solved: true})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"gatekeeper_turns_total",
		"gatekeeper_reveals_total",
		"gatekeeper_solves_total 1",
		"gatekeeper_breach_attempts_total",
		"gatekeeper_active_sessions",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
