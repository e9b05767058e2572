package conversation

import (
	"slices"
	"strings"

	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// Tier names the model class a prompt is routed to.
type Tier string

const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

const (
	defaultDeepMinWords   = 25
	defaultDeepMinClauses = 3
)

var clauseMarkers = []string{"and", "but", "because", "then", "also", "so", "while", "although", "whereas", "if"}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithDeepMinWords routes prompts with at least n words to the deep tier.
func WithDeepMinWords(n int) RouterOption { return func(r *Router) { r.deepMinWords = n } }

// WithDeepMinClauses routes prompts with at least n clauses to the deep tier.
func WithDeepMinClauses(n int) RouterOption { return func(r *Router) { r.deepMinClauses = n } }

// Router picks a fast model for short exchanges and a deep model for long or
// multi-clause questions.
type Router struct {
	fast, deep     llm.Provider
	deepMinWords   int
	deepMinClauses int
}

// NewRouter returns a Router. When either provider is nil the other serves
// both tiers.
func NewRouter(fast, deep llm.Provider, opts ...RouterOption) *Router {
	if fast == nil {
		fast = deep
	}
	if deep == nil {
		deep = fast
	}
	r := &Router{
		fast:           fast,
		deep:           deep,
		deepMinWords:   defaultDeepMinWords,
		deepMinClauses: defaultDeepMinClauses,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Select returns the provider and tier for prompt.
func (r *Router) Select(prompt string) (llm.Provider, Tier) {
	if r.Classify(prompt) == TierDeep {
		return r.deep, TierDeep
	}
	return r.fast, TierFast
}

// Classify decides the tier for prompt without resolving a provider.
func (r *Router) Classify(prompt string) Tier {
	tokens := phonetic.Tokens(prompt)
	if len(tokens) >= r.deepMinWords {
		return TierDeep
	}
	if countClauses(prompt, tokens) >= r.deepMinClauses {
		return TierDeep
	}
	return TierFast
}

// countClauses approximates the clause count from sentence punctuation and
// conjunctions.
func countClauses(prompt string, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	n := 1
	n += strings.Count(prompt, ",") + strings.Count(prompt, ";")
	// Count sentence breaks except a trailing one.
	trimmed := strings.TrimRight(strings.TrimSpace(prompt), ".?!")
	n += strings.Count(trimmed, "?") + strings.Count(trimmed, ". ") + strings.Count(trimmed, "! ")
	for _, t := range tokens[1:] {
		if slices.Contains(clauseMarkers, t) {
			n++
		}
	}
	return n
}
