// Package resilience provides the circuit breaker and provider failover used
// in front of the LLM and STT backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] puts a breaker in front of each instance of a provider type
// and tries them in order, so a failing primary is bypassed until it
// recovers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that open a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(name string, from, to State)

	Logger *slog.Logger

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	logger       *slog.Logger
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero config fields
// take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		logger:       cfg.Logger,
		now:          cfg.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome. It
// returns [ErrCircuitOpen] without calling fn while the breaker is open or
// the half-open probe budget is in use.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changes []transition
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changes = append(changes, cb.setState(StateHalfOpen))
		cb.probes, cb.probeSuccesses = 0, 0
	}
	probe := cb.state == StateHalfOpen
	if probe {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changes)
			return ErrCircuitOpen
		}
		cb.probes++
	}
	cb.mu.Unlock()
	cb.notify(changes)

	err := fn()

	cb.mu.Lock()
	var after []transition
	switch {
	case err != nil && probe:
		cb.openedAt = cb.now()
		after = append(after, cb.setState(StateOpen))
	case err != nil:
		cb.consecutiveFail++
		if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
			cb.openedAt = cb.now()
			after = append(after, cb.setState(StateOpen))
		}
	case probe:
		cb.probeSuccesses++
		if cb.state == StateHalfOpen && cb.probeSuccesses >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			after = append(after, cb.setState(StateClosed))
		}
	default:
		cb.consecutiveFail = 0
	}
	cb.mu.Unlock()
	cb.notify(after)
	return err
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
	cb.mu.Unlock()
	cb.notify([]transition{t})
}

type transition struct{ from, to State }

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) transition {
	t := transition{from: cb.state, to: s}
	cb.state = s
	return t
}

func (cb *CircuitBreaker) notify(ts []transition) {
	for _, t := range ts {
		if t.from == t.to {
			continue
		}
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		cb.logger.Log(context.Background(), level, "circuit breaker state change",
			"name", cb.name, "from", t.from.String(), "to", t.to.String())
		if cb.onChange != nil {
			cb.onChange(cb.name, t.from, t.to)
		}
	}
}
