package speaker

import (
	"io"
	"log/slog"
)

// ExtractorConfig configures an [Extractor].
type ExtractorConfig struct {
	// SampleRate of pushed samples. Default 16000.
	SampleRate int

	// BufferSize is the number of most recent samples an embedding is
	// computed over. Default 16000 (one second at 16 kHz).
	BufferSize int

	// Neural configures the preferred backend. When it cannot be loaded the
	// extractor uses the spectral backend for its whole lifetime.
	Neural NeuralConfig
}

// ExtractorOption configures an [Extractor].
type ExtractorOption func(*Extractor)

// WithBackend skips the neural probe and uses b.
func WithBackend(b Backend) ExtractorOption {
	return func(e *Extractor) { e.backend = b }
}

// Extractor keeps a rolling buffer of recent speech samples and turns it into
// an embedding once the buffer is full.
type Extractor struct {
	size    int
	backend Backend
	logger  *slog.Logger

	buf []float64
}

// NewExtractor creates an extractor, selecting the backend once: the neural
// backend if cfg.Neural loads and runs, otherwise the spectral backend with a
// single warning. A nil logger uses slog.Default().
func NewExtractor(cfg ExtractorConfig, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16000
	}
	e := &Extractor{
		size:   cfg.BufferSize,
		logger: logger,
		buf:    make([]float64, 0, cfg.BufferSize),
	}
	for _, o := range opts {
		o(e)
	}
	if e.backend == nil {
		e.backend = selectBackend(cfg, logger)
	}
	logger.Info("speaker embedding backend selected",
		"backend", e.backend.Name(),
		"dim", e.backend.Dim(),
		"buffer_size", e.size,
	)
	return e
}

func selectBackend(cfg ExtractorConfig, logger *slog.Logger) Backend {
	if cfg.Neural.SampleRate <= 0 {
		cfg.Neural.SampleRate = cfg.SampleRate
	}
	nb, err := NewNeuralBackend(cfg.Neural)
	if err == nil {
		return nb
	}
	logger.Warn("neural speaker embeddings unavailable, using spectral features", "err", err)
	return NewSpectralBackend(cfg.SampleRate)
}

// Backend returns the backend chosen at construction.
func (e *Extractor) Backend() Backend { return e.backend }

// BufferSize returns the number of samples an embedding needs.
func (e *Extractor) BufferSize() int { return e.size }

// Push appends samples, discarding the oldest beyond the buffer size.
func (e *Extractor) Push(samples []float64) {
	if len(samples) >= e.size {
		e.buf = append(e.buf[:0], samples[len(samples)-e.size:]...)
		return
	}
	if over := len(e.buf) + len(samples) - e.size; over > 0 {
		n := copy(e.buf, e.buf[over:])
		e.buf = e.buf[:n]
	}
	e.buf = append(e.buf, samples...)
}

// Ready reports whether the buffer is full.
func (e *Extractor) Ready() bool { return len(e.buf) >= e.size }

// Embedding computes the embedding of the current buffer. ok is false while
// the buffer is not yet full or if the backend fails on this buffer.
func (e *Extractor) Embedding() (Embedding, bool) {
	if !e.Ready() {
		return nil, false
	}
	emb, err := e.backend.Embed(e.buf)
	if err != nil {
		e.logger.Debug("speaker embedding failed", "backend", e.backend.Name(), "err", err)
		return nil, false
	}
	return emb, true
}

// Reset empties the buffer.
func (e *Extractor) Reset() { e.buf = e.buf[:0] }

// Close releases the backend if it holds native resources.
func (e *Extractor) Close() error {
	if c, ok := e.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
