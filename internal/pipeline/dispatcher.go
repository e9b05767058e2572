package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hearken/internal/observe"
)

var (
	// ErrDispatcherBusy is returned by Submit when every slot is taken.
	ErrDispatcherBusy = errors.New("pipeline: dispatcher busy")

	// ErrDispatcherClosed is returned by Submit after Shutdown.
	ErrDispatcherClosed = errors.New("pipeline: dispatcher closed")
)

// DispatcherConfig bounds background work.
type DispatcherConfig struct {
	// MaxInFlight is the number of jobs that may run at once. Default 4.
	MaxInFlight int

	// JobTimeout bounds each job. Default 30s.
	JobTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

// Job is a unit of background work. ctx carries the job timeout and the
// job's span.
type Job func(ctx context.Context) error

// Dispatcher runs LLM calls, embedding requests and store writes off the
// frame loop. Submit never waits: a saturated dispatcher rejects the job.
type Dispatcher struct {
	cfg     DispatcherConfig
	sem     *semaphore.Weighted
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *observe.Metrics
	logger  *slog.Logger

	inFlight atomic.Int64
	rejected atomic.Int64

	// mu orders Submit against Shutdown: an accepted job is registered with
	// group before Shutdown starts waiting.
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher whose jobs derive from ctx. A nil
// metrics or logger disables metrics or uses slog.Default.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig, metrics *observe.Metrics, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
		logger:  logger,
	}
}

// Submit starts job in the background under a span named name. Job errors
// are logged, never propagated to other jobs.
func (d *Dispatcher) Submit(name string, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if !d.sem.TryAcquire(1) {
		d.rejected.Add(1)
		if d.metrics != nil {
			d.metrics.DispatcherRejected.Add(d.ctx, 1)
		}
		d.logger.Warn("dispatcher saturated, job rejected", "job", name, "max_in_flight", d.cfg.MaxInFlight)
		return ErrDispatcherBusy
	}

	d.inFlight.Add(1)
	if d.metrics != nil {
		d.metrics.DispatcherInFlight.Add(d.ctx, 1)
	}
	d.group.Go(func() error {
		defer func() {
			d.inFlight.Add(-1)
			if d.metrics != nil {
				d.metrics.DispatcherInFlight.Add(context.Background(), -1)
			}
			d.sem.Release(1)
		}()

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
		defer cancel()
		ctx, span := observe.StartSpan(ctx, name, trace.WithAttributes(attribute.String("job", name)))

		err := job(ctx)
		observe.EndSpan(span, err)
		if err != nil {
			observe.Logger(ctx).Warn("dispatcher job failed", "job", name, "err", err)
		}
		return nil
	})
	return nil
}

// InFlight returns the number of running jobs.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Rejected returns the number of jobs refused because of saturation.
func (d *Dispatcher) Rejected() int64 { return d.rejected.Load() }

// Shutdown stops accepting jobs and waits for running ones. When ctx
// expires first, the remaining jobs are cancelled and ctx.Err() is
// returned once they have returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown deadline reached, cancelling jobs", "in_flight", d.InFlight())
		d.cancel()
		<-done
		return ctx.Err()
	}
}
