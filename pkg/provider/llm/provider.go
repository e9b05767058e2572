// Package llm defines the Provider interface for large language model
// backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Gemini, a local Ollama instance) behind a uniform interface, so the
// conversation pipeline can generate replies without coupling to any SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message is one entry of a conversation history.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string

	// Name is an optional participant label, e.g. the speaker of a user turn.
	Name string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history; the last entry is
	// usually the user turn being answered.
	Messages []Message

	// SystemPrompt is injected before Messages. Providers without a native
	// system field prepend it as a "system" message.
	SystemPrompt string

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Chunk is a fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental content.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error"
	// with the error message in Text.
	FinishReason string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities describes static properties of the model behind a
// provider.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input and output.
	ContextWindow int

	// MaxOutputTokens is the most tokens one completion may generate.
	MaxOutputTokens int

	// SupportsStreaming reports whether StreamCompletion streams natively.
	SupportsStreaming bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion starts a completion and returns a channel of chunks.
	// The channel is closed when generation ends or ctx is cancelled, and is
	// never nil when the error is nil. Errors after the stream has started
	// arrive as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context cost of messages. It must not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() ModelCapabilities
}
