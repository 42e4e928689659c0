// Package history keeps the append-only log of completed turns.
//
// The turn worker appends one [Turn] after each reply; responders read the
// log to pick a canned reply or to build the LLM conversation. All methods
// are safe for concurrent use.
package history

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// Turn is one completed exchange.
type Turn struct {
	UtteranceID string
	Transcript  string
	Reply       string
	At          time.Time
}

// History is an append-only list of turns.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// Append adds t to the end of the log. A zero At is set to the current time.
func (h *History) Append(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	h.mu.Lock()
	h.turns = append(h.turns, t)
	h.mu.Unlock()
}

// Len returns the number of completed turns. A nil History has length 0.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of the log in append order.
func (h *History) Turns() []Turn {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Messages renders the log as alternating user and assistant messages.
func (h *History) Messages() []llm.Message {
	return h.MessagesWithin(0)
}

// MessagesWithin renders the most recent turns whose estimated token count
// fits in maxTokens, oldest first. Whole turns are kept or dropped together.
// A maxTokens of zero or less keeps every turn.
func (h *History) MessagesWithin(maxTokens int) []llm.Message {
	turns := h.Turns()
	start := 0
	if maxTokens > 0 {
		budget := maxTokens
		start = len(turns)
		for start > 0 {
			cost := estimateTokens(turns[start-1])
			if cost > budget {
				break
			}
			budget -= cost
			start--
		}
	}

	out := make([]llm.Message, 0, 2*(len(turns)-start))
	for _, t := range turns[start:] {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: t.Transcript},
			llm.Message{Role: llm.RoleAssistant, Content: t.Reply},
		)
	}
	return out
}

// estimateTokens approximates the token cost of a turn, with a small
// per-message overhead for role and formatting.
func estimateTokens(t Turn) int {
	return (len(t.Transcript)+charsPerToken-1)/charsPerToken +
		(len(t.Reply)+charsPerToken-1)/charsPerToken + 8
}
