// Package webrtc implements vad.Engine on top of the WebRTC voice activity
// detector via github.com/maxhawkins/go-webrtcvad.
//
// WebRTC VAD is a binary GMM detector. It accepts 10, 20 or 30 ms frames of
// 16-bit mono PCM at 8, 16, 32 or 48 kHz, and its aggressiveness mode (0-3)
// maps directly to vad.Config.Aggressiveness.
package webrtc

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

var (
	validRates      = []int{8000, 16000, 32000, 48000}
	validFrameSizes = []int{10, 20, 30}
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("webrtc vad: session closed")

// Engine creates WebRTC VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	return &session{cfg: cfg, vad: v, frameBytes: cfg.FrameBytes()}, nil
}

func validate(cfg vad.Config) error {
	var errs []error
	if !slices.Contains(validRates, cfg.SampleRate) {
		errs = append(errs, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate))
	}
	if !slices.Contains(validFrameSizes, cfg.FrameSizeMs) {
		errs = append(errs, fmt.Errorf("webrtc vad: unsupported frame size %dms", cfg.FrameSizeMs))
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("webrtc vad: aggressiveness %d out of range 0-3", cfg.Aggressiveness))
	}
	return errors.Join(errs...)
}

type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	vad        *webrtcvad.VAD
	frameBytes int
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	active, err := s.vad.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return vad.Event{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	ev := vad.Event{Speech: active}
	if active {
		ev.Probability = 1
	}
	return ev, nil
}

func (s *session) FrameSize() int { return s.frameBytes }

// Reset swaps in a fresh detector. On failure the old one is kept.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	v, err := webrtcvad.New()
	if err != nil {
		return
	}
	if err := v.SetMode(s.cfg.Aggressiveness); err != nil {
		return
	}
	s.vad = v
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
