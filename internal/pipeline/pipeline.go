// Package pipeline runs the real-time frame loop: frames from the capture
// queue pass through the voice activity gate, the speaker arbiter and the
// recognizer, finalized utterances drive the conversation controller, and
// LLM replies and store writes are handed to a bounded [Dispatcher].
//
// The frame loop is the only goroutine that touches the gate, arbiter,
// segmenter, recognizer and controller. Everything that can block runs on
// the dispatcher and reports back through channels.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hearken/internal/conversation"
	"github.com/MrWong99/hearken/internal/feedback"
	"github.com/MrWong99/hearken/internal/gate"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/speaker"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/memory"
	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Transcriber is the synchronous recognizer the frame loop feeds.
// [stt.Recognizer] implements it.
type Transcriber interface {
	AcceptWaveform(frame []byte) (string, bool)
	Partial() string
	Reset()
	Flush() []string
	Close() error
}

var _ Transcriber = (*stt.Recognizer)(nil)

// Config tunes the frame loop.
type Config struct {
	SampleRate int

	Segmenter  SegmenterConfig
	Dispatcher DispatcherConfig

	// LLMTimeout bounds one reply. Default 20s.
	LLMTimeout time.Duration

	// ShutdownTimeout bounds the wait for background jobs. Default 5s.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 20 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	c.Segmenter = c.Segmenter.withDefaults()
	c.Dispatcher = c.Dispatcher.withDefaults()
	return c
}

// Tuning is a hot-reloaded set of core parameters.
type Tuning struct {
	Gate       gate.Config
	Arbiter    speaker.ArbiterConfig
	Registry   speaker.RegistryConfig
	Controller conversation.ControllerConfig
	Segmenter  SegmenterConfig
}

// Reply is an assistant reply applied to the conversation.
type Reply struct {
	SessionID string
	Prompt    string
	Text      string
	Tier      conversation.Tier
}

// Status is a point-in-time view of the loop for the /status endpoint.
type Status struct {
	Mode            string `json:"mode"`
	SessionID       string `json:"session_id"`
	CurrentSpeaker  string `json:"current_speaker"`
	Speakers        int    `json:"speakers"`
	Speaking        bool   `json:"speaking"`
	FramesProcessed int64  `json:"frames_processed"`
	QueueDepth      int    `json:"queue_depth"`
	DroppedFrames   int64  `json:"dropped_frames"`
	InFlightJobs    int    `json:"in_flight_jobs"`
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRouter enables LLM replies.
func WithRouter(r *conversation.Router) Option { return func(p *Pipeline) { p.router = r } }

// WithStore persists every turn and feedback record.
func WithStore(s memory.Store) Option { return func(p *Pipeline) { p.store = s } }

// WithEmbedder attaches text embeddings to stored turns.
func WithEmbedder(e embeddings.Provider) Option { return func(p *Pipeline) { p.embedder = e } }

// WithJournal appends feedback to a JSON-lines journal.
func WithJournal(j *feedback.Journal) Option { return func(p *Pipeline) { p.journal = j } }

// WithRecorder stores utterance audio.
func WithRecorder(r *Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithMetrics records loop metrics on m.
func WithMetrics(m *observe.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the time source for utterance timestamps.
func WithClock(fn func() time.Time) Option { return func(p *Pipeline) { p.now = fn } }

// WithReplyHandler is called on the frame loop for every applied reply.
func WithReplyHandler(fn func(Reply)) Option { return func(p *Pipeline) { p.onReply = fn } }

// Pipeline owns the core state machines and the frame loop.
type Pipeline struct {
	cfg        Config
	gate       *gate.Gate
	arbiter    *speaker.Arbiter
	recognizer Transcriber
	controller *conversation.Controller
	segmenter  *Segmenter

	router   *conversation.Router
	store    memory.Store
	embedder embeddings.Provider
	journal  *feedback.Journal
	recorder *Recorder
	metrics  *observe.Metrics
	logger   *slog.Logger
	now      func() time.Time
	onReply  func(Reply)

	dispatcher *Dispatcher
	queue      *FrameQueue
	replies    chan Reply
	tuning     chan Tuning
	pending    *Tuning
	frames     int64

	mu     sync.Mutex
	status Status
}

// New assembles a pipeline around the core components.
func New(cfg Config, g *gate.Gate, a *speaker.Arbiter, rec Transcriber, ctrl *conversation.Controller, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:        cfg,
		gate:       g,
		arbiter:    a,
		recognizer: rec,
		controller: ctrl,
		segmenter:  NewSegmenter(cfg.Segmenter),
		logger:     slog.Default(),
		now:        time.Now,
		replies:    make(chan Reply, cfg.Dispatcher.MaxInFlight*2),
		tuning:     make(chan Tuning, 1),
	}
	for _, o := range opts {
		o(p)
	}
	if p.recorder == nil {
		p.recorder = NewRecorder("", cfg.SampleRate)
	}
	p.publish()
	return p
}

// ApplyTuning hands new core parameters to the loop. They take effect when
// no speaker exists yet or at the next return to LISTENING. Safe to call
// from any goroutine; an unapplied earlier tuning is replaced.
func (p *Pipeline) ApplyTuning(t Tuning) {
	for {
		select {
		case p.tuning <- t:
			return
		default:
		}
		select {
		case <-p.tuning:
		default:
		}
	}
}

// Status returns the latest snapshot. Safe for concurrent use.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if p.queue != nil {
		s.QueueDepth = p.queue.Len()
		s.DroppedFrames = p.queue.Dropped()
	}
	if p.dispatcher != nil {
		s.InFlightJobs = p.dispatcher.InFlight()
	}
	return s
}

// Run consumes q until it is closed or ctx is cancelled, then flushes the
// utterance in progress, waits for background jobs and closes the
// recognizer. Jobs outlive ctx until the shutdown deadline.
func (p *Pipeline) Run(ctx context.Context, q *FrameQueue) error {
	p.mu.Lock()
	p.queue = q
	p.dispatcher = NewDispatcher(context.WithoutCancel(ctx), p.cfg.Dispatcher, p.metrics, p.logger)
	p.mu.Unlock()

	select {
	case t := <-p.tuning:
		p.queueTuning(t)
	default:
	}

	frames := q.Frames()
loop:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			p.processFrame(ctx, f)
		case r := <-p.replies:
			p.applyReply(r)
		case t := <-p.tuning:
			p.queueTuning(t)
		case <-ctx.Done():
			p.drainQueue(ctx, frames)
			break loop
		}
	}
	return p.shutdown(ctx)
}

func (p *Pipeline) drainQueue(ctx context.Context, frames <-chan audio.Frame) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.processFrame(ctx, f)
		default:
			return
		}
	}
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	p.segmenter.Cancel()
	for _, text := range p.recognizer.Flush() {
		p.finalize(ctx, p.arbiter.Current(), text, false)
	}

	deadline, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.dispatcher.Shutdown(deadline) }()

	var waitErr error
wait:
	for {
		select {
		case r := <-p.replies:
			p.applyReply(r)
		case waitErr = <-done:
			break wait
		}
	}
	for {
		select {
		case r := <-p.replies:
			p.applyReply(r)
			continue
		default:
		}
		break
	}

	if waitErr != nil {
		p.logger.Warn("pipeline: background jobs cancelled at shutdown", "err", waitErr)
	}
	if err := p.recognizer.Close(); err != nil {
		p.logger.Warn("pipeline: close recognizer", "err", err)
	}
	p.logger.Info("pipeline stopped", "frames", p.frames, "dropped", p.queue.Dropped())
	return nil
}

// ─── frame path ─────────────────────────────────────────────────────────────

func (p *Pipeline) processFrame(ctx context.Context, f audio.Frame) {
	p.frames++
	if p.metrics != nil {
		p.metrics.FramesProcessed.Add(ctx, 1)
	}

	speech := p.gate.ProcessFrame(f.Data)
	// Hangover frames belong to the utterance the recognizer is hearing.
	if p.gate.IsSpeaking() {
		p.recorder.Append(f.Data)
	}
	if speech {
		if p.metrics != nil {
			p.metrics.SpeechFrames.Add(ctx, 1)
		}
		d := p.arbiter.ProcessSpeech(f.Samples())
		p.noteDecision(ctx, d)
		if seg, ok := p.segmenter.Observe(d, p.recognizer.Partial()); ok {
			if p.metrics != nil {
				p.metrics.ForcedSegments.Add(ctx, 1)
			}
			p.logger.Info("pipeline: forced segmentation on speaker change",
				"speaker", seg.Speaker, "next", d.Current, "chars", len(seg.Text))
			p.recognizer.Reset()
			p.finalize(ctx, seg.Speaker, seg.Text, true)
		}
	} else {
		p.arbiter.Silence()
	}

	if text, ok := p.recognizer.AcceptWaveform(f.Data); ok {
		p.segmenter.Cancel()
		p.finalize(ctx, p.arbiter.Current(), text, false)
	}
	p.publish()
}

func (p *Pipeline) noteDecision(ctx context.Context, d speaker.Decision) {
	if d.Created != "" {
		p.logger.Debug("pipeline: speaker profile created", "speaker", d.Created, "frame", p.frames)
		if p.metrics != nil {
			p.metrics.ProfilesCreated.Add(ctx, 1)
			p.metrics.SpeakerCount.Record(ctx, int64(p.arbiter.SpeakerCount()))
		}
	}
	if d.Change != nil && p.metrics != nil {
		p.metrics.SpeakerChanges.Add(ctx, 1)
	}
}

// finalize routes one finished utterance through the controller and
// schedules the resulting background work.
func (p *Pipeline) finalize(ctx context.Context, speakerLabel, text string, forced bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := p.now()
	duration := p.recorder.Duration()
	pcm := p.recorder.Take()

	res := p.controller.HandleUtterance(conversation.Utterance{Speaker: speakerLabel, Text: text, Timestamp: now})
	p.logger.Debug("pipeline: utterance",
		"speaker", speakerLabel, "mode", res.Mode, "forced", forced, "text", text)

	mode := res.Mode
	if res.Feedback != nil {
		mode = res.Previous
	}
	turn := memory.Turn{
		ID:           uuid.NewString(),
		SessionID:    res.SessionID,
		SpeakerLabel: speakerLabel,
		Role:         memory.RoleUser,
		Text:         text,
		Mode:         mode.String(),
		Intent:       string(conversation.ClassifyIntent(text)),
		Timestamp:    now,
		Duration:     duration,
	}
	if prof, ok := p.arbiter.Registry().Get(speakerLabel); ok {
		turn.SpeakerEmbedding = prof.Embedding.Float32()
	}
	var audioPath string
	if p.recorder.Enabled() && len(pcm) > 0 {
		audioPath = p.recorder.Path(res.SessionID, speakerLabel)
	}
	p.saveTurn(turn, pcm, audioPath)

	if res.Transitioned && p.metrics != nil {
		p.metrics.RecordModeTransition(ctx, res.Previous.String(), res.Mode.String())
	}
	if res.Feedback != nil {
		p.saveFeedback(ctx, *res.Feedback, speakerLabel)
	}
	if res.Transitioned && res.Mode == conversation.Listening {
		p.applyPendingTuning()
	}
	if res.Respond {
		p.requestReply(res.SessionID, text)
	}
}

// ─── background work ────────────────────────────────────────────────────────

func (p *Pipeline) saveTurn(turn memory.Turn, pcm []byte, audioPath string) {
	if p.store == nil && audioPath == "" {
		return
	}
	err := p.persist("pipeline.save_turn", func(ctx context.Context) error {
		if audioPath != "" {
			if err := p.recorder.Write(audioPath, pcm); err != nil {
				p.logger.Warn("pipeline: write utterance audio", "err", err)
			} else {
				turn.AudioPath = audioPath
			}
		}
		if p.store == nil {
			return nil
		}
		if p.embedder != nil {
			turn.TextEmbedding = p.embed(ctx, turn.Text)
		}
		start := time.Now()
		err := p.store.SaveTurn(ctx, turn)
		if p.metrics != nil {
			observe.ObserveSince(ctx, p.metrics.StoreDuration, start)
		}
		return err
	})
	if err != nil {
		p.logger.Warn("pipeline: turn not saved", "session_id", turn.SessionID, "role", turn.Role, "err", err)
	}
}

// persist dispatches a write. Once the dispatcher is closed, during
// shutdown, the write runs inline so late replies are still stored.
func (p *Pipeline) persist(name string, job Job) error {
	err := p.dispatcher.Submit(name, job)
	if !errors.Is(err, ErrDispatcherClosed) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Dispatcher.JobTimeout)
	defer cancel()
	return job(ctx)
}

func (p *Pipeline) embed(ctx context.Context, text string) []float32 {
	start := time.Now()
	vec, err := p.embedder.Embed(ctx, text)
	if p.metrics != nil {
		observe.ObserveSince(ctx, p.metrics.EmbeddingDuration, start)
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, p.embedder.ModelID(), "embeddings")
		}
		p.logger.Warn("pipeline: embed turn", "err", err)
		return nil
	}
	return vec
}

func (p *Pipeline) saveFeedback(ctx context.Context, fb conversation.Feedback, speakerLabel string) {
	if p.metrics != nil {
		p.metrics.RecordFeedback(ctx, string(fb.Rating))
	}
	if p.store == nil && p.journal == nil {
		return
	}
	err := p.persist("pipeline.save_feedback", func(ctx context.Context) error {
		if p.journal != nil {
			rec := feedback.Record{
				Timestamp: fb.Timestamp,
				SessionID: fb.SessionID,
				Rating:    string(fb.Rating),
				Text:      fb.Text,
				Speaker:   speakerLabel,
			}
			if err := p.journal.Append(rec); err != nil {
				p.logger.Warn("pipeline: journal feedback", "err", err)
			}
		}
		if p.store == nil {
			return nil
		}
		return p.store.SaveFeedback(ctx, memory.Feedback{
			SessionID: fb.SessionID,
			Rating:    string(fb.Rating),
			Text:      fb.Text,
			Timestamp: fb.Timestamp,
		})
	})
	if err != nil {
		p.logger.Warn("pipeline: feedback not saved", "session_id", fb.SessionID, "err", err)
	}
}

func (p *Pipeline) requestReply(sessionID, prompt string) {
	if p.router == nil {
		return
	}
	provider, tier := p.router.Select(prompt)
	history := p.controller.Context()
	system := p.controller.SystemPrompt()

	err := p.dispatcher.Submit("pipeline.llm_reply", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
		defer cancel()

		start := time.Now()
		text, err := llm.Generate(ctx, provider, system, history, "")
		status := "ok"
		if err != nil {
			status = "error"
			p.logger.Warn("pipeline: llm reply failed", "session_id", sessionID, "tier", tier, "err", err)
			text = ""
		}
		if p.metrics != nil {
			observe.ObserveSince(ctx, p.metrics.LLMDuration, start)
			p.metrics.RecordProviderRequest(ctx, string(tier), "llm", status)
			if err != nil {
				p.metrics.RecordProviderError(ctx, string(tier), "llm")
			}
		}

		select {
		case p.replies <- Reply{SessionID: sessionID, Prompt: prompt, Text: text, Tier: tier}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		p.logger.Warn("pipeline: reply dropped", "session_id", sessionID, "err", err)
	}
}

// applyReply runs on the frame loop. Replies for a session that is no
// longer in conversation are discarded.
func (p *Pipeline) applyReply(r Reply) {
	if r.SessionID != p.controller.SessionID() || p.controller.Mode() != conversation.GemmaConversation {
		p.logger.Debug("pipeline: discarding stale reply", "session_id", r.SessionID, "current", p.controller.SessionID())
		return
	}
	if !p.controller.AppendAssistant(r.Text) {
		return
	}
	p.logger.Info("assistant reply", "session_id", r.SessionID, "tier", r.Tier, "text", r.Text)
	if p.onReply != nil {
		p.onReply(r)
	}
	p.saveTurn(memory.Turn{
		ID:        uuid.NewString(),
		SessionID: r.SessionID,
		Role:      memory.RoleAssistant,
		Text:      r.Text,
		Mode:      conversation.GemmaConversation.String(),
		Timestamp: p.now(),
	}, nil, "")
}

// ─── tuning ─────────────────────────────────────────────────────────────────

func (p *Pipeline) queueTuning(t Tuning) {
	p.pending = &t
	p.logger.Info("pipeline: tuning received, applying at next session boundary")
	p.applyTuningIfIdle()
}

// applyTuningIfIdle applies pending tuning while nothing depends on the old
// parameters yet.
func (p *Pipeline) applyTuningIfIdle() {
	if p.pending == nil {
		return
	}
	if p.arbiter.SpeakerCount() == 0 && p.controller.Mode() == conversation.Listening {
		p.applyPendingTuning()
	}
}

func (p *Pipeline) applyPendingTuning() {
	if p.pending == nil {
		return
	}
	t := *p.pending
	p.pending = nil
	p.gate.SetConfig(t.Gate)
	p.arbiter.SetConfig(t.Arbiter)
	p.arbiter.Registry().SetConfig(t.Registry)
	p.controller.SetConfig(t.Controller)
	p.segmenter.SetConfig(t.Segmenter)
	p.logger.Info("pipeline: tuning applied", "session_id", p.controller.SessionID())
}

// publish refreshes the status snapshot.
func (p *Pipeline) publish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Mode = p.controller.Mode().String()
	p.status.SessionID = p.controller.SessionID()
	p.status.CurrentSpeaker = p.arbiter.Current()
	p.status.Speakers = p.arbiter.SpeakerCount()
	p.status.Speaking = p.gate.IsSpeaking()
	p.status.FramesProcessed = p.frames
}
