package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/pipeline"
)

func TestDispatcher_RejectsWhenSaturated(t *testing.T) {
	m, reader := testMetrics(t)
	d := pipeline.NewDispatcher(context.Background(), pipeline.DispatcherConfig{MaxInFlight: 1}, m, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	err := d.Submit("second", func(context.Context) error { return nil })
	if !errors.Is(err, pipeline.ErrDispatcherBusy) {
		t.Fatalf("Submit on full dispatcher = %v, want ErrDispatcherBusy", err)
	}
	if d.Rejected() != 1 || d.InFlight() != 1 {
		t.Errorf("rejected = %d in flight = %d", d.Rejected(), d.InFlight())
	}
	if v := counterValue(t, reader, "hearken.dispatcher.rejected"); v != 1 {
		t.Errorf("rejected metric = %d", v)
	}

	close(release)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if d.InFlight() != 0 {
		t.Errorf("in flight after shutdown = %d", d.InFlight())
	}
	if v := counterValue(t, reader, "hearken.dispatcher.in_flight"); v != 0 {
		t.Errorf("in-flight metric = %d, want 0", v)
	}
}

func TestDispatcher_JobTimeout(t *testing.T) {
	d := pipeline.NewDispatcher(context.Background(), pipeline.DispatcherConfig{JobTimeout: 10 * time.Millisecond}, nil, nil)
	got := make(chan error, 1)
	_ = d.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-got; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("job ctx err = %v", err)
	}
}

func TestDispatcher_FailingJobDoesNotAffectOthers(t *testing.T) {
	d := pipeline.NewDispatcher(context.Background(), pipeline.DispatcherConfig{}, nil, nil)
	ran := make(chan struct{}, 1)
	_ = d.Submit("fail", func(context.Context) error { return errors.New("boom") })
	_ = d.Submit("ok", func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran <- struct{}{}
		return nil
	})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Error("second job did not run")
	}
}

func TestDispatcher_ShutdownDeadlineCancelsJobs(t *testing.T) {
	d := pipeline.NewDispatcher(context.Background(), pipeline.DispatcherConfig{JobTimeout: time.Hour}, nil, nil)
	cancelled := make(chan struct{})
	_ = d.Submit("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want deadline exceeded", err)
	}
	select {
	case <-cancelled:
	default:
		t.Error("stuck job was not cancelled")
	}

	if err := d.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, pipeline.ErrDispatcherClosed) {
		t.Errorf("Submit after shutdown = %v", err)
	}
}

func TestDispatcher_NoJobStartsAfterShutdown(t *testing.T) {
	for range 200 {
		d := pipeline.NewDispatcher(context.Background(), pipeline.DispatcherConfig{MaxInFlight: 64}, nil, nil)

		var (
			accepted atomic.Int64
			finished atomic.Int64
			stopped  = make(chan struct{})
		)
		go func() {
			defer close(stopped)
			for {
				err := d.Submit("write", func(context.Context) error {
					finished.Add(1)
					return nil
				})
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, pipeline.ErrDispatcherClosed):
					return
				}
			}
		}()

		if err := d.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		done := finished.Load()
		<-stopped
		if got := accepted.Load(); done != got {
			t.Fatalf("%d jobs accepted but %d finished before Shutdown returned", got, done)
		}
	}
}
