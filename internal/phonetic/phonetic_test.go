package phonetic_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hearken/internal/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	keywords := []string{"goodbye", "exit", "stop"}
	tests := []struct {
		name    string
		word    string
		want    string
		matched bool
	}{
		{"exact", "goodbye", "goodbye", true},
		{"case and punctuation", "GOODBYE!", "goodbye", true},
		{"misspelled", "goodby", "goodbye", true},
		{"unrelated", "hello", "", false},
		{"too short", "go", "", false},
		{"empty", "", "", false},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, score, ok := m.Match(tt.word, keywords)
			if ok != tt.matched || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.word, got, ok, tt.want, tt.matched)
			}
			if ok && score < 0.8 {
				t.Errorf("score = %f, want >= 0.8", score)
			}
			if !ok && score != 0 {
				t.Errorf("score = %f for a miss, want 0", score)
			}
		})
	}
}

func TestMatcher_NoKeywords(t *testing.T) {
	t.Parallel()
	if _, _, ok := phonetic.New().Match("goodbye", nil); ok {
		t.Error("matched against an empty keyword list")
	}
}

func TestMatcher_MinWordLength(t *testing.T) {
	t.Parallel()

	if _, _, ok := phonetic.New().Match("by", []string{"bye"}); ok {
		t.Error("two-letter word matched with the default minimum length")
	}
	got, _, ok := phonetic.New(phonetic.WithMinWordLength(2)).Match("by", []string{"bye"})
	if !ok || got != "bye" {
		t.Errorf("Match(by) = %q, %v; want bye", got, ok)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.999), phonetic.WithFuzzyThreshold(0.999))
	if _, _, ok := strict.Match("goodby", []string{"goodbye"}); ok {
		t.Error("near miss accepted at a 0.999 threshold")
	}
	if _, _, ok := strict.Match("goodbye", []string{"goodbye"}); !ok {
		t.Error("exact match rejected at a 0.999 threshold")
	}
}

func TestMatcher_MatchPhrase(t *testing.T) {
	t.Parallel()

	keywords := []string{"hey assistant", "goodbye"}
	tests := []struct {
		text    string
		want    string
		matched bool
	}{
		{"okay hey asistant what's up", "hey assistant", true},
		{"well goodby then", "goodbye", true},
		{"hey there everyone", "", false},
		{"", "", false},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, _, ok := m.MatchPhrase(tt.text, keywords)
			if ok != tt.matched || got != tt.want {
				t.Errorf("MatchPhrase(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.matched)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := phonetic.Tokens("What's the TIME, 'please'?")
	want := []string{"what's", "the", "time", "please"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokens = %q, want %q", got, want)
	}
}
