package conversation_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/hearken/internal/conversation"
	"github.com/MrWong99/hearken/pkg/provider/llm/mock"
)

func TestRouter_Classify(t *testing.T) {
	r := conversation.NewRouter(&mock.Provider{}, &mock.Provider{})
	tests := []struct {
		name   string
		prompt string
		want   conversation.Tier
	}{
		{"short question", "What time is it?", conversation.TierFast},
		{"one conjunction", "Is it cold and rainy?", conversation.TierFast},
		{"multi clause", "Compare Go and Rust, and explain why one is faster because I need to choose", conversation.TierDeep},
		{"two questions", "Where is Paris? And what is its population?", conversation.TierDeep},
		{"long", strings.Repeat("word ", 30), conversation.TierDeep},
		{"empty", "", conversation.TierFast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Classify(tt.prompt); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestRouter_Select(t *testing.T) {
	fast, deep := &mock.Provider{}, &mock.Provider{}
	r := conversation.NewRouter(fast, deep, conversation.WithDeepMinWords(3))

	if p, tier := r.Select("hi"); p != fast || tier != conversation.TierFast {
		t.Errorf("short prompt -> %v", tier)
	}
	if p, tier := r.Select("tell me everything"); p != deep || tier != conversation.TierDeep {
		t.Errorf("long prompt -> %v", tier)
	}
}

func TestRouter_SingleProvider(t *testing.T) {
	only := &mock.Provider{}
	for _, r := range []*conversation.Router{
		conversation.NewRouter(only, nil),
		conversation.NewRouter(nil, only),
	} {
		if p, _ := r.Select("hi"); p != only {
			t.Error("fast tier not served by the only provider")
		}
		if p, _ := r.Select(strings.Repeat("x ", 40)); p != only {
			t.Error("deep tier not served by the only provider")
		}
	}
}

func TestRouter_MinClauses(t *testing.T) {
	r := conversation.NewRouter(&mock.Provider{}, &mock.Provider{}, conversation.WithDeepMinClauses(2))
	if got := r.Classify("Is it cold and rainy?"); got != conversation.TierDeep {
		t.Errorf("Classify = %q, want deep", got)
	}
}
