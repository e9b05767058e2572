// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified client for OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp and llamafile.
//
//	p, err := anyllm.New("ollama", "gemma3:4b")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// Backends lists the provider names accepted by [New].
var Backends = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a provider for the named backend and model. Without an API key
// option the backend reads its usual environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, ...); local backends connect to their default address.
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{backend: backend, name: strings.ToLower(backendName), model: model}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(Backends, ", "))
	}
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens implements llm.Provider with the character approximation.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}
	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name}
}

// capabilityRule matches model names by substring; the first match wins.
type capabilityRule struct {
	match   string
	context int
	output  int
}

var capabilityRules = []capabilityRule{
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5-turbo", 16_385, 4_096},
	{"o1-mini", 128_000, 65_536},
	{"o1", 200_000, 100_000},
	{"o3", 200_000, 100_000},
	{"claude-3-opus", 200_000, 4_096},
	{"claude", 200_000, 8_192},
	{"gemini-1.5-pro", 2_097_152, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"gemma", 8_192, 2_048},
	{"llama3", 8_192, 2_048},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsStreaming: true}
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if strings.Contains(lower, r.match) {
			caps.ContextWindow, caps.MaxOutputTokens = r.context, r.output
			break
		}
	}
	return caps
}
