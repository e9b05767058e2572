package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Provider transcribes through a whisper-server instance (POST /inference).
//
//	p, _ := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	sess, _ := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
type Provider struct {
	serverURL string
	cfg       config
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server url must not be empty")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Provider{serverURL: strings.TrimRight(serverURL, "/"), cfg: cfg}, nil
}

// StartStream opens a batching session. No connection is made until the first
// utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return startBatch(ctx, p.cfg, cfg, p.infer)
}

// infer uploads pcm as a WAV file and returns the recognised text.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav, err := audio.WAVBytes(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write form file: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        language,
		"model":           p.cfg.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.cfg.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
