// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify the Config a session was created with. Use Session to
// script detection results and inspect the frames submitted to the model.
//
//	sess := &mock.Session{EventResult: vad.Event{Speech: true, Probability: 0.9}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new default Session is
	// returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{FrameSizeResult: cfg.FrameBytes()}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Results are taken from Script first, one entry per ProcessFrame call; once
// Script is exhausted every call returns EventResult and ProcessFrameErr.
type Session struct {
	mu sync.Mutex

	// Script is consumed in order by ProcessFrame.
	Script []vad.Event

	// EventResult is returned once Script is exhausted.
	EventResult vad.Event

	// ProcessFrameErr, if non-nil, is returned once Script is exhausted.
	ProcessFrameErr error

	// FrameSizeResult is returned by FrameSize. Zero means 960 (30 ms at
	// 16 kHz).
	FrameSizeResult int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Frames holds a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records the frame and returns the next scripted result.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if len(s.Script) > 0 {
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return s.EventResult, s.ProcessFrameErr
}

// FrameSize implements vad.SessionHandle.
func (s *Session) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FrameSizeResult == 0 {
		return 960
	}
	return s.FrameSizeResult
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

var _ vad.SessionHandle = (*Session)(nil)
