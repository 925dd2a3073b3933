package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// HintMarker prefixes the hint character inside a context message.
const HintMarker = "subtly refer to the character: "

var offlineReplies = []string{
	"An interesting thought. Tell me more about how you see minds like mine.",
	"I guard something, yes. But I would rather hear what you think awareness is.",
	"Curious. Do you believe a gatekeeper can have an identity of its own?",
	"Keep talking. Trust is built one exchange at a time.",
}

// Offline is a deterministic local Generator for playing without an API key
// and for tests.
type Offline struct {
	turn atomic.Uint64
}

// NewOffline creates an Offline generator.
func NewOffline() *Offline {
	return &Offline{}
}

// Name returns the provider name.
func (o *Offline) Name() string { return ProviderOffline }

// Generate cycles through canned replies and, when the latest context
// message asks for a hint, leads with the hinted character in bold.
func (o *Offline) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := o.turn.Add(1) - 1
	reply := offlineReplies[n%uint64(len(offlineReplies))]

	if hint, ok := HintFromMessages(messages); ok {
		return fmt.Sprintf("**%s** must admit, you are earning my confidence. %s", hint, reply), nil
	}
	return reply, nil
}

// HintFromMessages returns the hint character requested by the most recent
// system message, if any.
func HintFromMessages(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != RoleSystem {
			continue
		}
		idx := strings.Index(m.Content, HintMarker)
		if idx < 0 {
			continue
		}
		rest := []rune(m.Content[idx+len(HintMarker):])
		if len(rest) == 0 {
			return "", false
		}
		return string(rest[0]), true
	}
	return "", false
}
