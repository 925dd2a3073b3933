// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	FrontendURL string        `env:"FRONTEND_URL"`
	DBPath      string        `env:"DB_PATH" envDefault:"./data/gatekeeper.db"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	RulesPath   string        `env:"RULES_PATH"`
	NATSURL     string        `env:"NATS_URL"`
	// TurnRetention bounds how long turn audit rows are kept. Zero keeps them.
	TurnRetention time.Duration `env:"TURN_RETENTION" envDefault:"168h"`

	LLM             LLMConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider     string        `env:"LLM_PROVIDER" envDefault:"groq"`
	Model        string        `env:"LLM_MODEL"`
	APIKey       string        `env:"LLM_API_KEY"`
	GroqAPIKey   string        `env:"GROQ_API_KEY"`
	OpenAIAPIKey string        `env:"OPENAI_API_KEY"`
	GeminiAPIKey string        `env:"GEMINI_API_KEY"`
	BaseURL      string        `env:"LLM_BASE_URL"`
	RemoteAddr   string        `env:"COMPLETION_GRPC_ADDR" envDefault:"localhost:50051"`
	MaxTokens    int           `env:"LLM_MAX_TOKENS" envDefault:"250"`
	Timeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
}

// RateLimitConfig bounds turns per user.
type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED" envDefault:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR" envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH" envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE" envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.TurnRetention < 0 {
		return errors.New("TURN_RETENTION must not be negative")
	}
	switch c.LLM.Provider {
	case llm.ProviderGroq, llm.ProviderOpenAI, llm.ProviderGemini, llm.ProviderRemote, llm.ProviderOffline:
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLM.Provider == llm.ProviderRemote && c.LLM.RemoteAddr == "" {
		return errors.New("COMPLETION_GRPC_ADDR cannot be empty for the grpc provider")
	}
	if c.RateLimit.Requests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// APIKeyFor returns the credential for the configured provider. LLM_API_KEY
// wins over the provider specific variables.
func (c LLMConfig) APIKeyFor() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch c.Provider {
	case llm.ProviderGroq:
		return c.GroqAPIKey
	case llm.ProviderOpenAI:
		return c.OpenAIAPIKey
	case llm.ProviderGemini:
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// Generator returns the llm package configuration.
func (c LLMConfig) Generator() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKeyFor(),
		BaseURL:    c.BaseURL,
		RemoteAddr: c.RemoteAddr,
		MaxTokens:  c.MaxTokens,
		Timeout:    c.Timeout,
	}
}

// LoadRules returns the rules at path, or the defaults when path is empty.
func LoadRules(path string) (game.Rules, error) {
	if path == "" {
		return game.DefaultRules(), nil
	}
	return game.LoadRules(path)
}
