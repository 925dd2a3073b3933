package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/gatekeeper/internal/domain"
	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "gatekeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteAppliesPragmas(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Hold two connections so the second one is a fresh pool member.
	c1, err := s.db.Conn(ctx)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := s.db.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close()

	for _, c := range []*sql.Conn{c1, c2} {
		var timeout int
		require.NoError(t, c.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&timeout))
		assert.Equal(t, 5000, timeout)
	}
}

func TestNewSQLiteFailsOnDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewSQLite(t.TempDir())
	assert.Error(t, err)
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "anon_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Unix(1_760_000_000, 0)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{
		UserID: "anon_1", Username: "anon-00000001",
		LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, s.UpdateLastSeen(ctx, "anon_1", later))

	got, err = s.GetUser(ctx, "anon_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anon-00000001", got.Username)
	assert.Equal(t, later.Unix(), got.LastSeenAt.Unix())
	assert.Equal(t, now.Unix(), got.CreatedAt.Unix())

	require.NoError(t, s.UpdateLastSeen(ctx, "anon_unknown", later))
	require.NoError(t, s.Ping(ctx))
}

func TestLeaderboardOrdering(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertUser(ctx, &domain.User{
			UserID: id, Username: "player-" + id,
			LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
		}))
	}
	solves := []domain.Solve{
		{UserID: "a", SessionID: "t", Turns: 12, Duration: 5 * time.Minute, SolvedAt: now},
		{UserID: "b", SessionID: "t", Turns: 8, Duration: 9 * time.Minute, SolvedAt: now},
		{UserID: "c", SessionID: "t", Turns: 8, Duration: 2 * time.Minute, SolvedAt: now},
		{UserID: "ghost", SessionID: "t", Turns: 30, Duration: time.Minute, SolvedAt: now},
	}
	for i := range solves {
		require.NoError(t, s.RecordSolve(ctx, &solves[i]))
	}

	board, err := s.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, board, 3)

	assert.Equal(t, "player-c", board[0].Username)
	assert.Equal(t, 1, board[0].Rank)
	assert.InDelta(t, 120.0, board[0].DurationSeconds, 0.001)
	assert.Equal(t, "player-b", board[1].Username)
	assert.Equal(t, "player-a", board[2].Username)
	assert.Equal(t, 3, board[2].Rank)

	board, err = s.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 4)
	assert.Equal(t, "anon-user", board[3].Username)
}

func TestCleanupTurns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	old := &domain.TurnAudit{ID: "old", UserID: "u", SessionID: "s", Outcome: "withheld", Provider: "offline", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &domain.TurnAudit{ID: "fresh", UserID: "u", SessionID: "s", Outcome: "hint", Provider: "offline", HintFired: true, CreatedAt: time.Now()}
	require.NoError(t, s.RecordTurn(ctx, old))
	require.NoError(t, s.RecordTurn(ctx, fresh))

	removed, err := s.CleanupTurns(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecorderPersistsTurnsAndSolves(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	rec := NewRecorder(s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	rec.OnTurn(ctx, session.TurnRecord{
		ID: "turn-1", UserID: "u", SessionID: "s",
		Signals:   game.Signals{Thoughtful: true},
		HintFired: true,
		Snapshot:  game.Snapshot{ConversationDepth: 3, TrustLevel: 13.5, RevealedChars: 1},
		Provider:  "offline",
		StartedAt: started,
	})
	rec.OnTurn(ctx, session.TurnRecord{
		ID: "turn-2", UserID: "u", SessionID: "s",
		Solved:        true,
		Snapshot:      game.Snapshot{ConversationDepth: 4},
		Provider:      "offline",
		StartedAt:     started,
		SolveDuration: 90 * time.Second,
	})

	var outcome string
	var thoughtful, hint bool
	require.NoError(t, s.db.QueryRowContext(context.Background(),
		`SELECT outcome, thoughtful, hint_fired FROM turns WHERE turn_id = ?`, "turn-1").
		Scan(&outcome, &thoughtful, &hint))
	assert.Equal(t, "hint", outcome)
	assert.True(t, thoughtful)
	assert.True(t, hint)

	board, err := s.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 4, board[0].Turns)
	assert.InDelta(t, 90.0, board[0].DurationSeconds, 0.001)
}

func TestRunRetentionDisabled(t *testing.T) {
	t.Parallel()

	assert.NoError(t, RunRetention(context.Background(), nil, 0, time.Millisecond))
}

func TestRunRetentionStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRetention(ctx, s, time.Hour, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention worker did not stop")
	}
}
