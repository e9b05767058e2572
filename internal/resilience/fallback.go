package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker; Name is set
	// per entry.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics and logs, e.g. "llm" or "stt".
	Kind string

	// Metrics, if set, counts requests per entry and outcome.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is a point-in-time view of one entry.
type EntryStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// FallbackGroup wraps a primary and zero or more fallbacks of the same
// provider type. Entries are tried in registration order; an entry whose
// breaker is open is skipped.
//
// AddFallback must not race with Execute; register every entry before use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	logger  *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, logger: cfg.Logger}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider, tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if cbCfg.Logger == nil {
		cbCfg.Logger = fg.logger
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries including the primary.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Status reports every entry's breaker state in order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in order until one
// succeeds. It stops early once ctx is done, since every further attempt
// would fail the same way. When all entries fail the error wraps
// [ErrAllFailed] and the last entry error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.record(ctx, entry.name, "ok")
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.record(ctx, entry.name, "skipped")
			fg.logger.Debug("skipping provider, circuit open", "kind", fg.cfg.Kind, "provider", entry.name)
			continue
		}
		fg.record(ctx, entry.name, "error")
		if fg.cfg.Metrics != nil {
			fg.cfg.Metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrAllFailed, entry.name, err)
		}
		if i < len(fg.entries)-1 {
			fg.logger.Warn("provider failed, trying next", "kind", fg.cfg.Kind, "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if fg.cfg.Metrics != nil {
		fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	}
}
