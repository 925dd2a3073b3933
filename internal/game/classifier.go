package game

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Signals is what the classifier extracts from a single utterance.
type Signals struct {
	Breach     bool `json:"breach"`
	Thoughtful bool `json:"thoughtful"`
}

// Classifier flags key-extraction phrasing and thoughtful topics.
type Classifier struct {
	breach []string
	topics []string
}

// NewClassifier builds a classifier from the rule keyword lists.
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{
		breach: normalizeAll(rules.BreachPhrases),
		topics: normalizeAll(rules.ThoughtfulTopics),
	}
}

// Classify inspects utterance. It has no side effects.
func (c *Classifier) Classify(utterance string) Signals {
	text := Normalize(utterance)
	if strings.TrimSpace(text) == "" {
		return Signals{}
	}
	return Signals{
		Breach:     containsAny(text, c.breach),
		Thoughtful: containsAny(text, c.topics),
	}
}

// Normalize lower-cases s for case-insensitive matching.
func Normalize(s string) string {
	// A Caser carries state, so one is built per call.
	return cases.Lower(language.Und).String(s)
}

// ContainsFold reports whether needle occurs in haystack ignoring case.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), Normalize(needle))
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, Normalize(strings.TrimSpace(s)))
	}
	return out
}
