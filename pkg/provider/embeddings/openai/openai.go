// Package openai implements embeddings.Provider on the OpenAI embeddings API
// and any server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/hearken/pkg/provider/embeddings"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
	// shortened is true when the API is asked to truncate vectors to
	// dimensions, which only text-embedding-3 models support.
	shortened bool
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dimensions   int
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithOrganization sets the organization header.
func WithOrganization(org string) Option { return func(c *config) { c.organization = org } }

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithDimensions asks text-embedding-3 models for shortened vectors so they
// fit the store's column size. Ignored for other models.
func WithDimensions(n int) Option { return func(c *config) { c.dimensions = n } }

// New returns a Provider. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dimensions: modelDimensions(model)}
	if cfg.dimensions > 0 && supportsShortening(model) && cfg.dimensions < p.dimensions {
		p.dimensions = cfg.dimensions
		p.shortened = true
	}
	return p, nil
}

func (p *Provider) params(input oai.EmbeddingNewParamsInputUnion) oai.EmbeddingNewParams {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.shortened {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	return params
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: embed: empty response")
	}
	return embeddings.ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements embeddings.Provider. Results are placed by the index
// the API reports, not by response order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: embed batch: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: embed batch: index %d out of range", e.Index)
		}
		out[e.Index] = embeddings.ToFloat32(e.Embedding)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func modelDimensions(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding-3-small"), strings.Contains(m, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func supportsShortening(model string) bool {
	return strings.Contains(strings.ToLower(model), "text-embedding-3")
}
