// Package respond produces the assistant's reply text for a transcript.
//
// Rule-based responders ([RoundRobin], [Keyword], [Echo]) are deterministic
// given the transcript and the history. [LLM] delegates to a streamed chat
// model and concatenates the fragments in arrival order.
package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/earshot/internal/history"
	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// ErrEmptyReplies is returned when a round-robin responder has no replies.
var ErrEmptyReplies = errors.New("respond: reply list is empty")

// Kinds accepted by [New].
const (
	KindRoundRobin = "roundrobin"
	KindKeyword    = "keyword"
	KindEcho       = "echo"
	KindLLM        = "llm"
)

// Responder turns a transcript into reply text. h holds the completed turns
// before this one and may be nil.
type Responder interface {
	Respond(ctx context.Context, transcript string, h *history.History) (string, error)
}

// Func adapts an ordinary function to [Responder].
type Func func(ctx context.Context, transcript string, h *history.History) (string, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, transcript string, h *history.History) (string, error) {
	return f(ctx, transcript, h)
}

// Config selects and parameterises a responder in [New].
type Config struct {
	// Replies overrides [DefaultReplies] for the round-robin responder.
	Replies []string

	// LLM is required for [KindLLM].
	LLM llm.Provider

	// SystemPrompt and FallbackReply configure the LLM responder.
	SystemPrompt  string
	FallbackReply string
}

// New builds the responder registered under kind. An empty kind selects
// round-robin.
func New(kind string, cfg Config) (Responder, error) {
	switch strings.ToLower(kind) {
	case "", KindRoundRobin:
		replies := cfg.Replies
		if len(replies) == 0 {
			replies = DefaultReplies
		}
		return NewRoundRobin(replies...)
	case KindKeyword:
		return NewKeyword(DefaultRules, DefaultKeywordReply), nil
	case KindEcho:
		return Echo{}, nil
	case KindLLM:
		if cfg.LLM == nil {
			return nil, errors.New("respond: llm responder needs an LLM provider")
		}
		var opts []LLMOption
		if cfg.SystemPrompt != "" {
			opts = append(opts, WithSystemPrompt(cfg.SystemPrompt))
		}
		if cfg.FallbackReply != "" {
			opts = append(opts, WithFallbackReply(cfg.FallbackReply))
		}
		return NewLLM(cfg.LLM, opts...), nil
	default:
		return nil, fmt.Errorf("respond: unknown responder kind %q", kind)
	}
}

// ---- echo ----

// EchoFormat is the reply template of [Echo].
const EchoFormat = "You said: %s"

// Echo repeats the transcript back.
type Echo struct{}

// Respond returns "You said: <transcript>".
func (Echo) Respond(_ context.Context, transcript string, _ *history.History) (string, error) {
	return Fill(EchoFormat, transcript), nil
}

// Placeholder marks where a reply template takes the transcript.
const Placeholder = "%s"

// Fill substitutes transcript for the first [Placeholder] in template.
// Templates come from user config, so they are not format strings: a reply
// without a placeholder is returned as is and a literal % stays literal.
func Fill(template, transcript string) string {
	return strings.Replace(template, Placeholder, transcript, 1)
}
