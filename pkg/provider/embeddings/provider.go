// Package embeddings defines the text-embedding provider used to index
// conversation turns for semantic search.
//
// Every turn's text is embedded asynchronously after it is persisted, and the
// analytics search tool embeds its query with the same provider. Vectors from
// different models must never be compared, so the conversation store is
// created with the provider's Dimensions and CheckDimensions guards the pair
// at startup.
package embeddings

import (
	"context"
	"fmt"
)

// Provider maps text to dense vectors of a fixed length. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order. On error no partial
	// result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector this provider returns. Zero
	// means it is not yet known.
	Dimensions() int

	// ModelID names the embedding model.
	ModelID() string
}

// CheckDimensions reports an error when p produces vectors of a different
// length than want. A provider that cannot tell its dimension yet passes.
func CheckDimensions(p Provider, want int) error {
	got := p.Dimensions()
	if got == 0 || want == 0 || got == want {
		return nil
	}
	return fmt.Errorf("embeddings: model %s produces %d dimensions, store expects %d", p.ModelID(), got, want)
}

// ToFloat32 narrows a float64 vector.
func ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
