// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source replays a fixed list of frames and records how often it was run, so
// pipeline tests can drive the frame loop deterministically without a
// microphone or a file on disk.
//
//	src := &mock.Source{Frames: frames}
//	err := src.Run(ctx, func(f audio.Frame) { got = append(got, f) })
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are emitted in order by Run.
	Frames []audio.Frame

	// FormatResult is returned by [Source.Format]. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// RunError is returned by Run after all frames have been emitted.
	RunError error

	// BlockAfterFrames makes Run wait for ctx cancellation once Frames are
	// exhausted, like a live microphone.
	BlockAfterFrames bool

	// CallCountRun records how many times Run was called.
	CallCountRun int

	// Emitted is the number of frames delivered across all Run calls.
	Emitted int
}

// Name implements [audio.Source].
func (s *Source) Name() string { return "mock" }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.FormatResult
}

// Run implements [audio.Source].
func (s *Source) Run(ctx context.Context, emit func(audio.Frame)) error {
	s.mu.Lock()
	s.CallCountRun++
	frames := make([]audio.Frame, len(s.Frames))
	copy(frames, s.Frames)
	runErr := s.RunError
	block := s.BlockAfterFrames
	s.mu.Unlock()

	for _, f := range frames {
		if ctx.Err() != nil {
			return nil
		}
		emit(f)
		s.mu.Lock()
		s.Emitted++
		s.mu.Unlock()
	}
	if block {
		<-ctx.Done()
		return nil
	}
	return runErr
}

// Reset clears call records.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRun = 0
	s.Emitted = 0
}
