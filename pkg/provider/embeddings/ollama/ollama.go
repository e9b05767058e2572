// Package ollama implements embeddings.Provider on a local Ollama server's
// /api/embed endpoint (nomic-embed-text, mxbai-embed-large, all-minilm, ...).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/embeddings"
)

// DefaultBaseURL is where a local Ollama listens by default.
const DefaultBaseURL = "http://localhost:11434"

const probeTimeout = 10 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text with an Ollama model.
//
// Dimensions come from WithDimensions, then a table of well-known models, and
// finally a one-off probe request whose result is cached. A failed probe is
// retried on the next call.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	mu         sync.Mutex
	dimensions int
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
}

// Option configures a Provider.
type Option func(*config)

// WithTimeout sets the HTTP client timeout. Zero means none.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithDimensions fixes the vector length and skips the probe.
func WithDimensions(n int) Option { return func(c *config) { c.dimensions = n } }

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request, e.g. "30m" or "-1" for forever.
func WithKeepAlive(d string) Option { return func(c *config) { c.keepAlive = d } }

// New returns a Provider. An empty baseURL selects DefaultBaseURL.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		keepAlive:  cfg.keepAlive,
		httpClient: &http.Client{Timeout: cfg.timeout},
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with a single request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. It may issue a probe request.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimensions != 0 {
		return p.dimensions
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.embed(ctx, []string{"probe"})
	if err != nil {
		return 0
	}
	p.dimensions = len(vecs[0])
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts, Truncate: true, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("empty embeddings in response")
	}
	return out.Embeddings, nil
}

func knownDimensions(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "nomic-embed-text"):
		return 768
	case strings.Contains(m, "mxbai-embed-large"):
		return 1024
	case strings.Contains(m, "all-minilm"):
		return 384
	case strings.Contains(m, "bge-m3"):
		return 1024
	default:
		return 0
	}
}
