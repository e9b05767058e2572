package llm

import (
	"context"
	"fmt"
	"strings"
)

// Generate produces a reply to prompt given the prior conversation context.
// The prompt becomes the final user message. A blank reply is returned as an
// error so that callers can treat failure and emptiness alike.
func Generate(ctx context.Context, p Provider, systemPrompt string, context []Message, prompt string) (string, error) {
	msgs := make([]Message, 0, len(context)+1)
	msgs = append(msgs, context...)
	if prompt != "" {
		msgs = append(msgs, Message{Role: "user", Content: prompt})
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("llm: generate: no messages")
	}
	resp, err := p.Complete(ctx, CompletionRequest{
		Messages:     msgs,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("llm: generate: nil response")
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("llm: generate: empty reply")
	}
	return text, nil
}

// EstimateTokens is the shared character-based approximation used by
// providers without a tokenizer: four characters per token plus a small
// per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
