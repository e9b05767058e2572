// Package stt defines the streaming speech-to-text interface and a synchronous
// adapter over it.
//
// A Provider opens SessionHandles. A session accepts 16-bit PCM chunks and
// reports two streams of Transcript values: low-latency partials and
// authoritative finals. The frame loop does not consume channels directly; it
// drives a Recognizer, which feeds audio one frame at a time and drains
// whatever transcripts have arrived without blocking.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by SessionHandle methods the backend cannot
// honour, such as mid-stream keyword updates.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline uses 16000.
	SampleRate int

	// Channels is the number of interleaved channels. The pipeline always
	// sends mono.
	Channels int

	// Language is a BCP-47 tag such as "en" or "de-DE". Empty lets the
	// provider auto-detect when it can.
	Language string

	// Keywords biases recognition towards words the conversation controller
	// listens for (enter and exit phrases, names).
	Keywords []KeywordBoost
}

// SessionHandle is an open streaming session.
//
// Callers must call Close when done; Partials and Finals are closed once the
// session ends.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM matching the StreamConfig. It returns
	// an error after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim hypotheses. They are never persisted.
	Partials() <-chan Transcript

	// Finals emits committed transcripts.
	Finals() <-chan Transcript

	// SetKeywords replaces the keyword list. Backends that cannot update
	// mid-stream return an error wrapping ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio and releases resources. Calling Close more
	// than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a session ready to accept audio immediately. The
	// caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
