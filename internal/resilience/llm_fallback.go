package resilience

import (
	"context"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over from the primary model to
// the configured fallbacks.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. cfg.Kind defaults to "llm".
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of each backend.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// Complete returns the reply of the first backend that answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion fails over only while opening the stream; errors after
// the first chunk arrive in-band as usual.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens uses the primary's counter, falling back like any other call.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.entries[0].value.Capabilities()
}
