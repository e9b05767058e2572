// Package gate implements the voice activity gate: a per-frame speech/silence
// decision with silence hysteresis.
//
// The gate consults an external VAD model when one is attached and falls back
// to a mean-absolute-amplitude heuristic otherwise, or whenever the model
// fails on a frame. It never returns an error for audio content.
//
// A Gate is owned by the frame loop goroutine and is not safe for concurrent
// use.
package gate

import (
	"log/slog"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Config tunes a [Gate].
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// FrameDurationMs of incoming frames.
	FrameDurationMs int

	// SilenceThreshold is the number of consecutive non-speech frames after
	// which Speaking returns to false.
	SilenceThreshold int

	// EnergyThreshold is the mean absolute amplitude (normalised samples)
	// above which the energy heuristic reports speech.
	EnergyThreshold float64
}

// DefaultConfig returns the gate defaults: 16 kHz, 30 ms frames, three
// silence frames of hangover and an energy threshold of 0.01.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		FrameDurationMs:  30,
		SilenceThreshold: 3,
		EnergyThreshold:  0.01,
	}
}

// State is a snapshot of the gate's hysteresis counters.
type State struct {
	Speaking      bool
	SpeechFrames  int
	SilenceFrames int
}

// Option configures a [Gate].
type Option func(*Gate)

// WithDetector attaches an external VAD session. Frames are padded or
// truncated to its FrameSize before classification.
func WithDetector(d vad.SessionHandle) Option {
	return func(g *Gate) { g.detector = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// Gate is the voice activity gate.
type Gate struct {
	cfg      Config
	detector vad.SessionHandle
	logger   *slog.Logger

	state      State
	scratch    []byte
	warnedOnce bool
}

// New creates a gate. Zero-valued fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Gate {
	g := &Gate{cfg: withDefaults(cfg), logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameDurationMs <= 0 {
		cfg.FrameDurationMs = def.FrameDurationMs
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	return cfg
}

// ProcessFrame classifies one frame of int16 PCM and advances the
// hysteresis. It returns the raw per-frame decision; use IsSpeaking for the
// smoothed state. An empty frame counts as non-speech.
func (g *Gate) ProcessFrame(frame []byte) bool {
	speech := len(frame) > 0 && g.classify(frame)
	if speech {
		g.state.Speaking = true
		g.state.SpeechFrames++
		g.state.SilenceFrames = 0
		return true
	}
	g.state.SilenceFrames++
	if g.state.SilenceFrames >= g.cfg.SilenceThreshold {
		g.state.Speaking = false
		g.state.SpeechFrames = 0
	}
	return false
}

func (g *Gate) classify(frame []byte) bool {
	if g.detector != nil {
		ev, err := g.detector.ProcessFrame(g.fit(frame))
		if err == nil {
			return ev.Speech
		}
		if !g.warnedOnce {
			g.warnedOnce = true
			g.logger.Debug("gate: vad model failed, using energy heuristic", "err", err)
		}
	}
	return audio.MeanAbs(audio.PCM16ToFloat64(frame)) > g.cfg.EnergyThreshold
}

// fit pads with zeros or truncates frame to the detector's frame size.
func (g *Gate) fit(frame []byte) []byte {
	n := g.detector.FrameSize()
	if n <= 0 || len(frame) == n {
		return frame
	}
	if len(frame) > n {
		return frame[:n]
	}
	if cap(g.scratch) < n {
		g.scratch = make([]byte, n)
	}
	buf := g.scratch[:n]
	copy(buf, frame)
	clear(buf[len(frame):])
	return buf
}

// IsSpeaking reports the smoothed speech state.
func (g *Gate) IsSpeaking() bool { return g.state.Speaking }

// SilenceFrames returns the current run of consecutive non-speech frames.
func (g *Gate) SilenceFrames() int { return g.state.SilenceFrames }

// State returns a snapshot of the counters.
func (g *Gate) State() State { return g.state }

// Config returns the active tuning.
func (g *Gate) Config() Config { return g.cfg }

// Reset clears the hysteresis state and resets the attached detector.
func (g *Gate) Reset() {
	g.state = State{}
	if g.detector != nil {
		g.detector.Reset()
	}
}

// SetConfig replaces the tuning. The frame loop calls it only at session
// boundaries; counters are kept.
func (g *Gate) SetConfig(cfg Config) {
	g.cfg = withDefaults(cfg)
}
