// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat model (a local Ollama instance,
// OpenAI, Anthropic and so on) and exposes a uniform streamed completion so the
// LLM responder does not couple to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// FinishReasonError marks a chunk that reports a failure after the stream
// started. Its Text carries the error message.
const FinishReasonError = "error"

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// normally the user's transcript.
	Messages []Message

	// SystemPrompt is injected before the conversation history as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError] when the stream broke.
	FinishReason string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values in arrival order. The channel is closed when
	// generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel. Errors that occur after the channel is
	// opened are surfaced as a Chunk with FinishReason [FinishReasonError];
	// the initial error return is non-nil only for failures that prevent the
	// stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
