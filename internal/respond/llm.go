package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/earshot/internal/history"
	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// DefaultFallbackReply is spoken when the language model cannot be reached.
const DefaultFallbackReply = "I'm sorry, I'm having trouble connecting to my language model right now."

// DefaultSystemPrompt is the assistant persona.
const DefaultSystemPrompt = "You are a helpful voice AI assistant. Answer in one or two short spoken sentences."

// LLMOption configures an [LLM] responder.
type LLMOption func(*LLM)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) LLMOption {
	return func(l *LLM) { l.systemPrompt = p }
}

// WithFallbackReply replaces [DefaultFallbackReply]. An empty reply makes
// Respond return the model error instead.
func WithFallbackReply(r string) LLMOption {
	return func(l *LLM) { l.fallback = r }
}

// WithHistoryTokens bounds how much history is sent, estimated in tokens.
// Zero sends everything.
func WithHistoryTokens(n int) LLMOption {
	return func(l *LLM) { l.historyTokens = n }
}

// WithTemperature sets the sampling temperature. The default is 0.7.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// LLM asks a chat model for the reply.
type LLM struct {
	provider      llm.Provider
	systemPrompt  string
	fallback      string
	historyTokens int
	temperature   float64
}

// NewLLM returns an LLM responder over p.
func NewLLM(p llm.Provider, opts ...LLMOption) *LLM {
	l := &LLM{
		provider:      p,
		systemPrompt:  DefaultSystemPrompt,
		fallback:      DefaultFallbackReply,
		historyTokens: 2000,
		temperature:   0.7,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Respond streams a completion for the history followed by transcript. When
// the stream cannot start or breaks, the fallback reply is returned with a
// nil error and a warning is logged.
func (l *LLM) Respond(ctx context.Context, transcript string, h *history.History) (string, error) {
	reply, err := l.complete(ctx, transcript, h)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil || l.fallback == "" {
		return "", err
	}
	slog.Warn("respond: language model failed, using fallback reply", "err", err)
	return l.fallback, nil
}

func (l *LLM) complete(ctx context.Context, transcript string, h *history.History) (string, error) {
	var msgs []llm.Message
	if h != nil {
		msgs = h.MessagesWithin(l.historyTokens)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: transcript})

	ch, err := l.provider.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: l.systemPrompt,
		Messages:     msgs,
		Temperature:  l.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("respond: start completion: %w", err)
	}

	var sb strings.Builder
	var streamErr error
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			streamErr = fmt.Errorf("respond: completion stream: %s", chunk.Text)
			continue
		}
		sb.WriteString(chunk.Text)
	}
	if streamErr != nil {
		return "", streamErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", errors.New("respond: model returned an empty reply")
	}
	return reply, nil
}
