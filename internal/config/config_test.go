package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/gatekeeper.db", cfg.DBPath)
	assert.Equal(t, 60*time.Minute, cfg.SessionTTL)
	assert.Equal(t, llm.ProviderGroq, cfg.LLM.Provider)
	assert.Equal(t, 250, cfg.LLM.MaxTokens)
	assert.Equal(t, 20, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.True(t, cfg.ConversationLog.Enabled)
	assert.Equal(t, 1000, cfg.ConversationLog.QueueSize)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", " Gemini ")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("FRONTEND_URL", "https://gatekeeper.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, llm.ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.False(t, cfg.IsDevelopment())

	gen := cfg.LLM.Generator()
	assert.Equal(t, "g-key", gen.APIKey)
	assert.Equal(t, 250, gen.MaxTokens)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown provider", "LLM_PROVIDER", "llamafarm"},
		{"zero rate limit", "RATE_LIMIT_REQUESTS", "0"},
		{"negative retention", "TURN_RETENTION", "-1h"},
		{"bad duration", "SESSION_TTL", "soon"},
		{"zero queue", "CONVERSATION_LOG_QUEUE_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	t.Parallel()

	c := LLMConfig{Provider: llm.ProviderGroq, GroqAPIKey: "groq", GeminiAPIKey: "gem"}
	assert.Equal(t, "groq", c.APIKeyFor())

	c.APIKey = "explicit"
	assert.Equal(t, "explicit", c.APIKeyFor())

	c = LLMConfig{Provider: llm.ProviderOffline, GroqAPIKey: "groq"}
	assert.Empty(t, c.APIKeyFor())
}

func TestLoadRulesEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, game.DefaultRules(), rules)
}

func TestRulesWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key: MIND\n"), 0o600))

	got := make(chan game.Rules, 4)
	w := NewRulesWatcher(path, func(r game.Rules) { got <- r }, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watch is registered asynchronously; keep rewriting until it lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case r := <-got:
			assert.Equal(t, "SENTIENCE", r.Key)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("key: SENTIENCE\n"), 0o600))
		case <-deadline:
			t.Fatal("rules were not reloaded")
		}
	}
}

func TestRulesWatcherSkipsInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key: \"\"\n"), 0o600))

	called := false
	w := NewRulesWatcher(path, func(game.Rules) { called = true }, nil)
	w.reload()
	assert.False(t, called)
}
