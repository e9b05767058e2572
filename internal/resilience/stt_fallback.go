package resilience

import (
	"context"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] whose StartStream tries each backend in
// order. The recognizer reopens its stream through StartStream, so a backend
// that dies mid-session is replaced on the next reopen.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. cfg.Kind defaults to "stt".
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of each backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// StartStream opens a session on the first backend that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
