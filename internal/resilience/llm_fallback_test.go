package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/llm"
	llmmock "github.com/MrWong99/hearken/pkg/provider/llm/mock"
)

func newLLMFallback(primary, secondary *llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("ollama", secondary)
	return fb
}

func TestLLMFallback_Complete(t *testing.T) {
	tests := []struct {
		name       string
		primaryErr error
		want       string
		wantCalls  [2]int
	}{
		{"primary answers", nil, "from primary", [2]int{1, 0}},
		{"failover", errors.New("rate limited"), "from secondary", [2]int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}
			fb := newLLMFallback(primary, secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: "user", Content: "what time is it"}},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if len(primary.CompleteCalls) != tt.wantCalls[0] || len(secondary.CompleteCalls) != tt.wantCalls[1] {
				t.Errorf("calls = %d/%d, want %v", len(primary.CompleteCalls), len(secondary.CompleteCalls), tt.wantCalls)
			}
		})
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	fb := newLLMFallback(
		&llmmock.Provider{CompleteErr: errors.New("primary down")},
		&llmmock.Provider{CompleteErr: errors.New("secondary down")},
	)
	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Generate(t *testing.T) {
	fb := newLLMFallback(
		&llmmock.Provider{CompleteErr: errors.New("primary down")},
		&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  It is noon.  "}},
	)
	reply, err := llm.Generate(context.Background(), fb, "be brief",
		[]llm.Message{{Role: "user", Content: "what time is it"}}, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "It is noon." {
		t.Errorf("reply = %q, want %q", reply, "It is noon.")
	}
}

func TestLLMFallback_StreamCompletion_Failover(t *testing.T) {
	fb := newLLMFallback(
		&llmmock.Provider{StreamErr: errors.New("stream failed")},
		&llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "chunk1"}, {Text: "chunk2", FinishReason: "stop"}}},
	)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0].Text != "chunk1" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestLLMFallback_CountTokensAndCapabilities(t *testing.T) {
	primary := &llmmock.Provider{
		TokenCount:        42,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, SupportsStreaming: true},
	}
	fb := newLLMFallback(primary, &llmmock.Provider{TokenCount: 7})

	count, err := fb.CountTokens([]llm.Message{{Role: "user", Content: "test"}})
	if err != nil || count != 42 {
		t.Fatalf("CountTokens = %d, %v; want 42", count, err)
	}
	if caps := fb.Capabilities(); caps.ContextWindow != 128000 || !caps.SupportsStreaming {
		t.Errorf("Capabilities() = %+v", caps)
	}
	if st := fb.Status(); len(st) != 2 || st[0].Name != "openai" || st[1].Name != "ollama" {
		t.Errorf("Status() = %+v", st)
	}
}
