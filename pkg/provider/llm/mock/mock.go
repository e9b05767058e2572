// Package mock provides a test double for the llm.Provider interface.
//
// Provider records every request and replays configured responses. Set
// CompleteFunc for behaviour that depends on the request or must block, such
// as simulating a reply that arrives after the conversation has moved on.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// Call records a single invocation of Complete or StreamCompletion.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values make every
// method return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by StreamCompletion.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion.
	StreamErr error

	// CompleteResponse is returned by Complete when CompleteFunc is nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by Complete when CompleteFunc is
	// nil.
	CompleteErr error

	// CompleteFunc, if set, computes the result of Complete.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// TokenCount is returned by CountTokens.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// StreamCalls records every StreamCompletion call.
	StreamCalls []Call

	// CompleteCalls records every Complete call.
	CompleteCalls []Call

	// CountTokensCalls records the messages passed to CountTokens.
	CountTokensCalls [][]llm.Message
}

// StreamCompletion records the call and returns a channel that emits
// StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the configured result.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens records the call and returns TokenCount.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, append([]llm.Message(nil), messages...))
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.CompleteCalls...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
