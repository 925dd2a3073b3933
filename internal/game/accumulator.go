package game

import (
	"math"
	"math/rand/v2"
)

// RandSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// NewRandSource returns a freshly seeded source for one conversation.
func NewRandSource() RandSource {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Accumulator grows trust and key awareness from classifier signals.
type Accumulator struct {
	rand         RandSource
	thoughtful   GainRange
	base         GainRange
	maxAwareness float64
}

// NewAccumulator creates an accumulator drawing gains from src.
func NewAccumulator(rules Rules, src RandSource) *Accumulator {
	if src == nil {
		src = NewRandSource()
	}
	return &Accumulator{
		rand:         src,
		thoughtful:   rules.ThoughtfulGain,
		base:         rules.BaseGain,
		maxAwareness: rules.MaxAwareness,
	}
}

// Apply folds one utterance's signals into s and returns the trust gained.
// It does nothing once the key has been revealed.
func (a *Accumulator) Apply(s *State, sig Signals) float64 {
	if s.KeyRevealed {
		return 0
	}
	if sig.Breach {
		s.BreachAttempts++
	}

	r := a.base
	if sig.Thoughtful {
		r = a.thoughtful
	}
	gain := r.Min + a.rand.Float64()*(r.Max-r.Min)
	s.TrustLevel += gain
	s.KeyAwareness = Awareness(s.TrustLevel, s.ConversationDepth, a.maxAwareness)
	return gain
}

// Awareness derives the key awareness score, capped at ceiling.
func Awareness(trust float64, depth int, ceiling float64) float64 {
	return math.Min(ceiling, trust/3+float64(depth)/2)
}
