// Package llm provides the text-generation backends the gatekeeper talks to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem carries instructions and ephemeral context.
	RoleSystem Role = "system"
	// RoleUser carries player utterances.
	RoleUser Role = "user"
	// RoleAssistant carries gatekeeper replies.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation sent to a Generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator produces the next assistant reply for a conversation.
type Generator interface {
	// Generate returns the reply text for messages.
	Generate(ctx context.Context, messages []Message) (string, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

var (
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrEmptyCompletion is returned when a backend answers with no text.
	ErrEmptyCompletion = errors.New("completion returned no content")
	// ErrMissingAPIKey is returned when a hosted provider has no credentials.
	ErrMissingAPIKey = errors.New("api key not configured")
)

// Provider names accepted by New.
const (
	ProviderGroq    = "groq"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderRemote  = "grpc"
	ProviderOffline = "offline"
)

// Config selects and configures a backend.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	RemoteAddr string
	MaxTokens  int
	Timeout    time.Duration
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderGroq:
		return "llama3-8b-8192"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return ""
	}
}

// NeedsAPIKey reports whether provider talks to a hosted API.
func NeedsAPIKey(provider string) bool {
	switch provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

// New builds the Generator described by cfg.
func New(ctx context.Context, cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Model == "" {
		cfg.Model = DefaultModel(provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 250
	}
	if NeedsAPIKey(provider) && cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}

	switch provider {
	case ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqBaseURL
		}
		return NewOpenAI(provider, cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(provider, cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderRemote:
		return NewRemote(ctx, RemoteConfig{Address: cfg.RemoteAddr, RequestTimeout: cfg.Timeout, Model: cfg.Model, MaxTokens: cfg.MaxTokens}, nil)
	case ProviderOffline:
		return NewOffline(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
