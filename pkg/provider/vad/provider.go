// Package vad defines the Engine interface for frame-level voice activity
// detection models.
//
// A VAD engine wraps a speech detector (WebRTC VAD, Silero, or a custom model)
// and exposes it as a stateful per-stream session. Detection is synchronous:
// ProcessFrame returns immediately, so the session can sit directly in the
// frame loop ahead of speaker attribution and STT.
//
// A SessionHandle is owned by a single goroutine. Engines must be safe for
// concurrent NewSession calls.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the PCM rate in Hz. Must match the frames passed to
	// ProcessFrame. WebRTC VAD accepts 8000, 16000, 32000 and 48000.
	SampleRate int

	// FrameSizeMs is the model's native frame duration. Callers pad or
	// truncate to [SessionHandle.FrameSize] bytes before ProcessFrame.
	FrameSizeMs int

	// Aggressiveness trades recall for precision, 0 (least aggressive) to 3.
	Aggressiveness int

	// SpeechThreshold is the probability above which a frame counts as speech
	// for probabilistic models. Ignored by binary detectors. Typical: 0.5.
	SpeechThreshold float64
}

// Event is the detection result for a single frame.
type Event struct {
	// Speech reports whether the frame contains voice.
	Speech bool

	// Probability is the model's speech probability in [0, 1]. Binary
	// detectors report 0 or 1.
	Probability float64
}

// SessionHandle is an active detection session for one audio stream.
type SessionHandle interface {
	// ProcessFrame classifies exactly FrameSize bytes of little-endian int16
	// PCM. It must not block. An error means the model could not classify the
	// frame; callers are expected to fall back rather than abort.
	ProcessFrame(frame []byte) (Event, error)

	// FrameSize is the byte length ProcessFrame expects.
	FrameSize() int

	// Reset clears smoothing state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. It returns an
	// error if cfg names an unsupported rate, frame size or aggressiveness.
	NewSession(cfg Config) (SessionHandle, error)
}

// FrameBytes returns the byte length of a mono int16 frame for cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}
