package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	sys, err := convertMessage(llm.Message{Role: "system", Content: "be brief"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: %v %+v", err, sys)
	}
	usr, err := convertMessage(llm.Message{Role: "user", Content: "hi"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: %v %+v", err, usr)
	}
	asst, err := convertMessage(llm.Message{Role: "assistant", Content: "hello"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: %v %+v", err, asst)
	}
	if _, err := convertMessage(llm.Message{Role: "narrator"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model   string
		context int
		output  int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o3-mini", 200_000, 100_000},
		{"unknown", 128_000, 4_096},
	}
	for _, tt := range tests {
		c := modelCapabilities(tt.model)
		if c.ContextWindow != tt.context || c.MaxOutputTokens != tt.output {
			t.Errorf("%s: caps = %+v", tt.model, c)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "It is noon."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: "user", Content: "What time is it?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "It is noon." || resp.Usage.TotalTokens != 16 {
		t.Errorf("resp = %+v", resp)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}
