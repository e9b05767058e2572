// Package app wires the Hearken subsystems into a running assistant.
//
// The App owns the full lifecycle: New builds every subsystem from the
// config, Run captures audio and drives the pipeline until the source ends
// or ctx is cancelled, ApplyConfig hot-reloads tuning, and Shutdown releases
// resources in order.
//
// For testing, inject doubles via functional options (WithStore, WithSource,
// WithTranscriber, …). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/conversation"
	"github.com/MrWong99/hearken/internal/feedback"
	"github.com/MrWong99/hearken/internal/gate"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/pipeline"
	"github.com/MrWong99/hearken/internal/speaker"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/portaudio"
	"github.com/MrWong99/hearken/pkg/memory"
	"github.com/MrWong99/hearken/pkg/memory/postgres"
	"github.com/MrWong99/hearken/pkg/memory/sqlite"
	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// keywordBoost is the recognition hint weight for conversation keywords.
const keywordBoost = 2.0

// App owns all subsystem lifetimes.
type App struct {
	cfgMu sync.Mutex
	cfg   *config.Config

	providers *Providers
	logger    *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store       memory.Store
	source      audio.Source
	transcriber pipeline.Transcriber
	extractor   *speaker.Extractor
	backend     speaker.Backend
	queue       *pipeline.FrameQueue
	pipeline    *pipeline.Pipeline
	health      *health.Handler
	server      *http.Server
	listener    net.Listener

	capturing atomic.Bool

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conversation store instead of opening the configured
// backend.
func WithStore(s memory.Store) Option { return func(a *App) { a.store = s } }

// WithSource injects the capture source.
func WithSource(s audio.Source) Option { return func(a *App) { a.source = s } }

// WithTranscriber injects the recognizer instead of opening an STT stream.
func WithTranscriber(t pipeline.Transcriber) Option { return func(a *App) { a.transcriber = t } }

// WithSpeakerBackend skips the neural model probe.
func WithSpeakerBackend(b speaker.Backend) Option { return func(a *App) { a.backend = b } }

// WithMetrics records on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.logger = l } }

// WithLevelVar lets ApplyConfig change the level of the handler that owns v.
func WithLevelVar(v *slog.LevelVar) Option { return func(a *App) { a.level = v } }

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option { return func(a *App) { a.listener = l } }

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds every subsystem. Providers come from [BuildProviders]; a nil
// Providers means none are configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Speaker extractor ─────────────────────────────────────────────
	a.initExtractor()

	// ── 2. Conversation store ────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Capture ───────────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init source: %w", err)
	}

	// ── 4. Recognizer ────────────────────────────────────────────────────
	if err := a.initRecognizer(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 5. Core state machines and pipeline ──────────────────────────────
	if err := a.initPipeline(); err != nil {
		_ = a.transcriber.Close()
		a.close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initExtractor() {
	sp := a.cfg.Speaker
	var opts []speaker.ExtractorOption
	if a.backend != nil {
		opts = append(opts, speaker.WithBackend(a.backend))
	}
	a.extractor = speaker.NewExtractor(speaker.ExtractorConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		BufferSize: sp.BufferSize,
		Neural: speaker.NeuralConfig{
			ModelPath:   sp.ModelPath,
			LibraryPath: sp.ONNXLibrary,
			InputName:   sp.ModelInput,
			OutputName:  sp.ModelOutput,
		},
	}, a.logger, opts...)
	a.backend = a.extractor.Backend()
	a.closers = append(a.closers, a.extractor.Close)
}

// initStore opens the configured backend unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	mc := a.cfg.Memory
	if emb := a.providers.Embeddings; emb != nil {
		if err := embeddings.CheckDimensions(emb, mc.EmbeddingDimensions); err != nil {
			return err
		}
	}
	if a.store != nil {
		return nil
	}

	speakerDims := mc.SpeakerDimensions
	if speakerDims == 0 {
		speakerDims = a.backend.Dim()
	}
	st, err := OpenStore(ctx, mc, speakerDims)
	if err != nil {
		return err
	}
	if st == nil {
		a.logger.Warn("no conversation store configured, turns are not persisted")
		return nil
	}
	a.store = st
	a.logger.Info("conversation store opened", "backend", mc.Backend)
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// OpenStore opens the configured conversation store. It returns a nil store
// and no error when the backend is "none". speakerDims sizes the postgres
// speaker embedding column.
func OpenStore(ctx context.Context, mc config.MemoryConfig, speakerDims int) (memory.Store, error) {
	switch mc.Backend {
	case config.BackendPostgres:
		st, err := postgres.NewStore(ctx, mc.PostgresDSN, mc.EmbeddingDimensions, speakerDims)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, mc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", mc.Backend)
	}
}

func (a *App) initRecognizer(ctx context.Context) error {
	if a.transcriber != nil {
		return nil
	}
	if a.providers.STT == nil {
		return errors.New("an stt provider is required")
	}
	tuning := TuningFromConfig(a.cfg, false)
	var boosts []stt.KeywordBoost
	for _, kw := range slices.Concat(tuning.Controller.EnterKeywords, tuning.Controller.ExitKeywords) {
		boosts = append(boosts, stt.KeywordBoost{Keyword: kw, Boost: keywordBoost})
	}
	rec, err := stt.NewRecognizer(ctx, a.providers.STT, stt.StreamConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   1,
		Language:   a.cfg.Providers.STT.OptString("language"),
		Keywords:   boosts,
	}, a.logger)
	if err != nil {
		return err
	}
	// The pipeline closes the recognizer when Run returns.
	a.transcriber = rec
	return nil
}

func (a *App) initPipeline() error {
	tuning := TuningFromConfig(a.cfg, a.backend.Normalized())

	gateOpts := []gate.Option{gate.WithLogger(a.logger)}
	if a.providers.VAD != nil {
		det, err := a.newDetector(a.providers.VAD)
		if err != nil {
			return err
		}
		gateOpts = append(gateOpts, gate.WithDetector(det))
	}
	g := gate.New(tuning.Gate, gateOpts...)

	arb := speaker.NewArbiter(tuning.Arbiter, a.extractor, speaker.NewRegistry(tuning.Registry), a.logger)

	ctrl := conversation.NewController(tuning.Controller, conversation.WithLogger(a.logger))

	popts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
		pipeline.WithRecorder(pipeline.NewRecorder(a.cfg.Dataset.AudioDir, a.cfg.Audio.SampleRate)),
	}
	if a.providers.LLM != nil {
		popts = append(popts, pipeline.WithRouter(conversation.NewRouter(a.providers.LLM, a.providers.LLMDeep)))
	} else {
		a.logger.Warn("no llm provider configured, conversations get no replies")
	}
	if a.store != nil {
		popts = append(popts, pipeline.WithStore(a.store))
	}
	if a.providers.Embeddings != nil && a.store != nil {
		popts = append(popts, pipeline.WithEmbedder(a.providers.Embeddings))
	}
	if path := a.cfg.Feedback.JournalPath; path != "" {
		popts = append(popts, pipeline.WithJournal(feedback.NewJournal(path)))
	}

	a.pipeline = pipeline.New(pipeline.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Segmenter:  tuning.Segmenter,
		LLMTimeout: a.cfg.Conversation.LLMTimeout,
	}, g, arb, a.transcriber, ctrl, popts...)
	a.queue = pipeline.NewFrameQueue(a.cfg.Audio.QueueSize,
		pipeline.WithQueueMetrics(a.metrics), pipeline.WithQueueLogger(a.logger))
	return nil
}

func (a *App) newDetector(engine vad.Engine) (vad.SessionHandle, error) {
	aggr := 2
	if a.cfg.VAD.Aggressiveness != nil {
		aggr = *a.cfg.VAD.Aggressiveness
	}
	det, err := engine.NewSession(vad.Config{
		SampleRate:      a.cfg.Audio.SampleRate,
		FrameSizeMs:     a.cfg.Audio.FrameDurationMs,
		Aggressiveness:  aggr,
		SpeechThreshold: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("vad session: %w", err)
	}
	a.closers = append(a.closers, det.Close)
	return det, nil
}

func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}
	ac := a.cfg.Audio
	sc := audio.SourceConfig{
		SampleRate:      ac.SampleRate,
		FrameDurationMs: ac.FrameDurationMs,
		DeviceRate:      ac.DeviceRate,
	}
	switch ac.Source {
	case config.SourceWAV:
		a.source = audio.NewWAVSource(ac.WAVPath, sc, audio.WithRealtime(true), audio.WithWAVLogger(a.logger))
	case config.SourcePortAudio:
		a.source = portaudio.New(sc, a.logger)
	default:
		return fmt.Errorf("unknown audio source %q", ac.Source)
	}
	return nil
}

func (a *App) initHTTP() {
	var checks []health.Option
	if a.store != nil {
		checks = append(checks, health.WithChecker("store", a.store.Ping))
	}
	checks = append(checks,
		health.WithChecker("capture", func(context.Context) error {
			if !a.capturing.Load() {
				return errors.New("capture not running")
			}
			return nil
		}),
		health.WithStatus(func() any { return a.pipeline.Status() }),
	)
	a.health = health.New(checks...)

	if a.cfg.Server.ListenAddr == "" && a.listener == nil {
		return
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Handler returns the HTTP surface: health, readiness, status and metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run captures audio and drives the pipeline until the source is exhausted
// or ctx is cancelled. The HTTP server, if configured, stops with it.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.capturing.Store(true)
		defer a.capturing.Store(false)
		defer a.queue.Close()
		a.logger.Info("capture started", "source", a.source.Name(), "format", a.source.Format())
		if err := a.source.Run(gctx, a.queue.Push); err != nil {
			return fmt.Errorf("app: capture: %w", err)
		}
		a.logger.Info("capture stopped", "source", a.source.Name())
		return nil
	})

	g.Go(func() error {
		// The pipeline drains the queue after capture ends; only then is the
		// run over.
		defer cancel()
		return a.pipeline.Run(gctx, a.queue)
	})

	if a.server != nil {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}

	a.logger.Info("app running",
		"source", a.source.Name(),
		"speaker_backend", a.backend.Name(),
		"store", a.store != nil,
		"llm", a.providers.LLM != nil,
	)
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()
	a.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "err", err)
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. The log level
// changes at once, core tuning at the next session boundary; everything
// else is logged as needing a restart.
func (a *App) ApplyConfig(next *config.Config) {
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg = next
	a.cfgMu.Unlock()

	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TuningChanged() {
		a.pipeline.ApplyTuning(TuningFromConfig(next, a.backend.Normalized()))
		a.logger.Info("core tuning reloaded",
			"vad", d.VADChanged, "speaker", d.SpeakerChanged, "conversation", d.ConversationChanged)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// Status returns the pipeline snapshot served at /status.
func (a *App) Status() pipeline.Status { return a.pipeline.Status() }

// Store returns the conversation store, or nil when none is configured.
func (a *App) Store() memory.Store { return a.store }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases subsystems in init order. It respects the context
// deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs the closers after a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

// SlogLevel maps a config level to its slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
