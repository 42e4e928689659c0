package respond

import (
	"context"

	"github.com/MrWong99/earshot/internal/history"
)

// DefaultReplies are the canned demo replies. Each holds one [Placeholder]
// for the transcript.
var DefaultReplies = []string{
	"I heard you say: %s",
	"That's interesting! You said: %s",
	"Let me think about: %s",
	"Thanks for sharing: %s",
}

// RoundRobin cycles through a fixed reply list. The reply for a turn is
// replies[h.Len() % len(replies)], so the choice depends only on how many
// turns came before.
type RoundRobin struct {
	replies []string
}

// NewRoundRobin returns a RoundRobin over replies. It returns
// [ErrEmptyReplies] when the list is empty.
func NewRoundRobin(replies ...string) (*RoundRobin, error) {
	if len(replies) == 0 {
		return nil, ErrEmptyReplies
	}
	return &RoundRobin{replies: append([]string(nil), replies...)}, nil
}

// Index returns the reply index used after historyLen completed turns.
func (r *RoundRobin) Index(historyLen int) int {
	return historyLen % len(r.replies)
}

// Respond fills the selected reply with transcript. A reply without a
// placeholder is used verbatim.
func (r *RoundRobin) Respond(_ context.Context, transcript string, h *history.History) (string, error) {
	return Fill(r.replies[r.Index(h.Len())], transcript), nil
}
