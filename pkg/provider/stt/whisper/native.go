package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// NativeProvider runs whisper.cpp in-process through the cgo bindings. The
// model is loaded once; each transcription gets its own context, which is not
// safe for concurrent use.
//
// Linking needs libwhisper.a and whisper.h on LIBRARY_PATH and C_INCLUDE_PATH.
type NativeProvider struct {
	model whisperlib.Model
	cfg   config

	mu     sync.Mutex
	closed bool
}

var _ stt.Provider = (*NativeProvider)(nil)

// NewNative loads the model at modelPath. Call Close to release it.
func NewNative(modelPath string, opts ...Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &NativeProvider{model: model, cfg: cfg}, nil
}

// StartStream opens a batching session backed by the loaded model.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.New("whisper: provider closed")
	}
	return startBatch(ctx, p.cfg, cfg, p.infer)
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.model == nil {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

func (p *NativeProvider) infer(_ context.Context, pcm []byte, _ int, language string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			p.cfg.logger.Warn("whisper: set language failed, using model default", "language", language, "err", err)
		}
	}
	if err := wctx.Process(toFloat32(audio.PCM16ToFloat64(pcm)), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
