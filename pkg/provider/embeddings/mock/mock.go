// Package mock provides a test double for embeddings.Provider.
//
// Vectors come from Vectors when the text has an entry there, otherwise from
// EmbedResult. This lets search tests give each turn a distinct direction:
//
//	p := &mock.Provider{
//	    DimensionsValue: 2,
//	    Vectors: map[string][]float32{"what time is it": {1, 0}, "goodbye": {0, 1}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps exact texts to the vector returned for them.
	Vectors map[string][]float32

	// EmbedResult is returned for texts missing from Vectors.
	EmbedResult []float32

	// EmbedErr, if non-nil, fails every Embed and EmbedBatch call.
	EmbedErr error

	DimensionsValue int
	ModelIDValue    string

	// Texts records every text submitted, batch entries included, in order.
	Texts []string

	// EmbedCallCount and EmbedBatchCallCount count calls per method.
	EmbedCallCount      int
	EmbedBatchCallCount int
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) vector(text string) []float32 {
	p.Texts = append(p.Texts, text)
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	return p.EmbedResult
}

// Embed records the text and returns its vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCallCount++
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch records the texts and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCallCount++
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }

// Submitted returns a copy of Texts.
func (p *Provider) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

// Reset clears the call records.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = nil
	p.EmbedCallCount = 0
	p.EmbedBatchCallCount = 0
}
