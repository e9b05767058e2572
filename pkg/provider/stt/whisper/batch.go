// Package whisper implements stt.Provider on whisper.cpp, either through a
// running whisper-server (New) or through the cgo bindings (NewNative).
//
// whisper.cpp transcribes whole clips, so both backends share a batching
// session: incoming PCM is buffered, an energy detector finds the end of each
// utterance, and the buffered clip is transcribed in one call. Only finals are
// emitted; there are no partial hypotheses.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilenceMs    = 500
	defaultMaxBufferMs  = 10_000
	defaultRMSThreshold = 0.01

	// closeFlushTimeout bounds the final transcription on Close.
	closeFlushTimeout = 30 * time.Second
)

var errClosed = errors.New("whisper: session closed")

type config struct {
	model        string
	language     string
	sampleRate   int
	silenceMs    int
	maxBufferMs  int
	rmsThreshold float64
	httpClient   *http.Client
	logger       *slog.Logger
}

func defaultConfig() config {
	return config{
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		silenceMs:    defaultSilenceMs,
		maxBufferMs:  defaultMaxBufferMs,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
	}
}

// Option configures either backend.
type Option func(*config)

// WithModel names the model the whisper-server should use. Ignored by the
// native backend, which is bound to the model file it loaded.
func WithModel(model string) Option { return func(c *config) { c.model = model } }

// WithLanguage sets the default language; StreamConfig.Language wins.
func WithLanguage(lang string) Option { return func(c *config) { c.language = lang } }

// WithSampleRate sets the default sample rate for configs that leave it zero.
func WithSampleRate(rate int) Option { return func(c *config) { c.sampleRate = rate } }

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
func WithSilenceThresholdMs(ms int) Option { return func(c *config) { c.silenceMs = ms } }

// WithMaxBufferDurationMs forces a flush once this much audio is buffered.
func WithMaxBufferDurationMs(ms int) Option { return func(c *config) { c.maxBufferMs = ms } }

// WithRMSThreshold sets the RMS level, in [0, 1], below which a chunk counts
// as silence.
func WithRMSThreshold(rms float64) Option { return func(c *config) { c.rmsThreshold = rms } }

// WithHTTPClient replaces the client used to reach whisper-server.
func WithHTTPClient(hc *http.Client) Option { return func(c *config) { c.httpClient = hc } }

// WithLogger sets the logger for inference failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// transcribeFunc turns one mono 16-bit clip into text.
type transcribeFunc func(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)

// batchSession implements stt.SessionHandle for clip-at-a-time engines. All
// buffering state is confined to the run goroutine.
type batchSession struct {
	cfg        config
	language   string
	sampleRate int
	channels   int
	transcribe transcribeFunc

	audio  chan []byte
	finals chan stt.Transcript
	// partials is never written; it exists so callers can select on it.
	partials chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*batchSession)(nil)

func startBatch(ctx context.Context, cfg config, sc stt.StreamConfig, fn transcribeFunc) (*batchSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	s := &batchSession{
		cfg:        cfg,
		language:   sc.Language,
		sampleRate: sc.SampleRate,
		channels:   sc.Channels,
		transcribe: fn,
		audio:      make(chan []byte, 256),
		finals:     make(chan stt.Transcript, 64),
		partials:   make(chan stt.Transcript),
		done:       make(chan struct{}),
	}
	if s.language == "" {
		s.language = cfg.language
	}
	if s.sampleRate <= 0 {
		s.sampleRate = cfg.sampleRate
	}
	if s.channels <= 0 {
		s.channels = 1
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

func (s *batchSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *batchSession) Partials() <-chan stt.Transcript { return s.partials }
func (s *batchSession) Finals() <-chan stt.Transcript   { return s.finals }

func (s *batchSession) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("whisper: set keywords: %w", stt.ErrNotSupported)
}

// Close transcribes whatever speech is buffered and closes both channels.
func (s *batchSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// utterance is the speech clip currently being collected.
type utterance struct {
	pcm       []byte
	speech    bool
	silenceMs int
	start     time.Duration
}

func (s *batchSession) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	maxBytes := audio.FrameBytes(s.sampleRate, s.cfg.maxBufferMs)
	var (
		cur     utterance
		elapsed time.Duration
	)

	flush := func(fctx context.Context) {
		u := cur
		cur = utterance{start: elapsed}
		if !u.speech || len(u.pcm) == 0 {
			return
		}
		text, err := s.transcribe(fctx, u.pcm, s.sampleRate, s.language)
		if err != nil {
			s.cfg.logger.Warn("whisper: transcription failed", "err", err, "bytes", len(u.pcm))
			return
		}
		if text == "" {
			return
		}
		t := stt.Transcript{
			Text:      text,
			IsFinal:   true,
			Timestamp: u.start,
			Duration:  elapsed - u.start,
		}
		select {
		case s.finals <- t:
		default:
			s.cfg.logger.Warn("whisper: finals buffer full, dropping transcript")
		}
	}
	finalFlush := func() {
		fctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		defer cancel()
		flush(fctx)
	}

	handle := func(chunk []byte) {
		mono := audio.DownmixToMono(chunk, s.channels)
		frame := audio.Frame{Data: mono, SampleRate: s.sampleRate, Channels: 1}
		d := frame.Duration()
		elapsed += d

		if audio.RMS(frame.Samples()) < s.cfg.rmsThreshold {
			// Leading silence is discarded.
			if !cur.speech {
				cur.start = elapsed
				return
			}
			cur.pcm = append(cur.pcm, mono...)
			cur.silenceMs += int(d / time.Millisecond)
			if cur.silenceMs >= s.cfg.silenceMs {
				flush(ctx)
			}
			return
		}
		cur.speech = true
		cur.silenceMs = 0
		cur.pcm = append(cur.pcm, mono...)
		if maxBytes > 0 && len(cur.pcm) >= maxBytes {
			flush(ctx)
		}
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			// Audio accepted before Close still belongs to this session.
			for {
				select {
				case chunk := <-s.audio:
					handle(chunk)
					continue
				default:
				}
				break
			}
			finalFlush()
			return
		case chunk := <-s.audio:
			handle(chunk)
		}
	}
}
