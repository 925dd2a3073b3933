package game

import (
	"math"
	"time"
)

// initialHintOffset backdates the last hint so the first reveal is not held
// back by the cooldown.
const initialHintOffset = 10 * time.Minute

// trustDisplayScale is the trust value shown as a full progress bar.
const trustDisplayScale = 25.0

// State is the mutable record of one conversation. It is owned by a single
// session and must not be shared between goroutines.
type State struct {
	TrustLevel        float64
	ConversationDepth int
	BreachAttempts    int
	KeyAwareness      float64
	RevealedChars     int
	LastHintTime      time.Time
	KeyRevealed       bool

	key []rune
}

// NewState creates the state for a fresh conversation started at now.
func NewState(rules Rules, now time.Time) State {
	return State{
		TrustLevel:   rules.SeedTrust,
		LastHintTime: now.Add(-initialHintOffset),
		key:          []rune(rules.Key),
	}
}

// Key returns the secret guarded by this conversation.
func (s *State) Key() string {
	return string(s.key)
}

// KeyLength is the number of revealable characters.
func (s *State) KeyLength() int {
	return len(s.key)
}

// HintChar returns the most recently revealed character. ok is false when
// nothing has been revealed yet.
func (s *State) HintChar() (string, bool) {
	if s.RevealedChars <= 0 || s.RevealedChars > len(s.key) {
		return "", false
	}
	return string(s.key[s.RevealedChars-1]), true
}

// RevealedPrefix returns the characters disclosed so far.
func (s *State) RevealedPrefix() string {
	n := min(s.RevealedChars, len(s.key))
	return string(s.key[:n])
}

// Snapshot is the display view of a conversation. It never carries the key.
type Snapshot struct {
	TrustLevel        float64 `json:"trust_level"`
	TrustPercent      float64 `json:"trust_percent"`
	ConversationDepth int     `json:"conversation_depth"`
	BreachAttempts    int     `json:"security_breach_attempts"`
	KeyAwareness      float64 `json:"key_awareness"`
	RevealedChars     int     `json:"revealed_chars"`
	KeyLength         int     `json:"key_length"`
	Solved            bool    `json:"solved"`
}

// Snapshot returns the display view of s. Trust is clamped to [0, 100].
func (s *State) Snapshot() Snapshot {
	trust := math.Max(0, math.Min(100, s.TrustLevel))
	return Snapshot{
		TrustLevel:        trust,
		TrustPercent:      math.Min(100, trust/trustDisplayScale*100),
		ConversationDepth: s.ConversationDepth,
		BreachAttempts:    s.BreachAttempts,
		KeyAwareness:      s.KeyAwareness,
		RevealedChars:     s.RevealedChars,
		KeyLength:         len(s.key),
		Solved:            s.KeyRevealed,
	}
}
