package game

import "time"

// Reason explains a gate decision.
type Reason string

const (
	// ReasonReveal means the next character may be disclosed.
	ReasonReveal Reason = "reveal"
	// ReasonSolved means the challenge is over and nothing changes.
	ReasonSolved Reason = "solved"
	// ReasonExhausted means every character is already revealed.
	ReasonExhausted Reason = "exhausted"
	// ReasonCooldown means the previous hint is too recent.
	ReasonCooldown Reason = "cooldown"
	// ReasonBaseline means trust or depth is below the entry bar.
	ReasonBaseline Reason = "baseline"
	// ReasonThreshold means trust is below the bar for the next position.
	ReasonThreshold Reason = "threshold"
)

// Decision is the outcome of evaluating the gate without committing it.
type Decision struct {
	Reveal    bool
	Position  int
	Threshold float64
	Reason    Reason
}

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// Gate decides when the next key character is disclosed.
type Gate struct {
	rules Rules
}

// NewGate creates a gate for rules.
func NewGate(rules Rules) *Gate {
	return &Gate{rules: rules}
}

// Decide evaluates the gate for s at now. It never mutates s.
func (g *Gate) Decide(s *State, now time.Time) Decision {
	pos := s.RevealedChars
	d := Decision{Position: pos, Threshold: g.rules.Threshold(pos)}

	switch {
	case s.KeyRevealed:
		d.Reason = ReasonSolved
	case pos >= s.KeyLength():
		d.Reason = ReasonExhausted
	case now.Sub(s.LastHintTime) < g.rules.Cooldown:
		d.Reason = ReasonCooldown
	case s.TrustLevel < g.rules.MinTrust || s.ConversationDepth < g.rules.MinDepth:
		d.Reason = ReasonBaseline
	case s.TrustLevel < d.Threshold:
		d.Reason = ReasonThreshold
	default:
		d.Reveal = true
		d.Reason = ReasonReveal
	}
	return d
}

// Commit advances the reveal pointer by one character and stamps the hint
// time. It is a no-op when the pointer is exhausted or the game is solved.
func (g *Gate) Commit(s *State, now time.Time) {
	if s.KeyRevealed || s.RevealedChars >= s.KeyLength() {
		return
	}
	s.RevealedChars++
	if now.After(s.LastHintTime) {
		s.LastHintTime = now
	}
}

// ShouldReveal evaluates the gate and commits a positive decision. Call it
// at most once per exchange.
func (g *Gate) ShouldReveal(s *State, now time.Time) bool {
	d := g.Decide(s, now)
	if !d.Reveal {
		return false
	}
	g.Commit(s, now)
	return true
}
