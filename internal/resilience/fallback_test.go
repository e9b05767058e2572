package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hearken/internal/observe"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// requests sums hearken.provider.requests points matching provider and status.
func requests(t *testing.T, reader *sdkmetric.ManualReader, provider, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hearken.provider.requests" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value(attribute.Key("provider"))
				s, _ := dp.Attributes.Value(attribute.Key("status"))
				if p.AsString() == provider && s.AsString() == status {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup("primary", "primary", cfg)
	fg.AddFallback("secondary", "secondary")
	return fg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestFallbackGroup_Order(t *testing.T) {
	tests := []struct {
		name     string
		failing  map[string]bool
		wantUsed string
		wantErr  bool
	}{
		{"primary healthy", nil, "primary", false},
		{"primary down", map[string]bool{"primary": true}, "secondary", false},
		{"all down", map[string]bool{"primary": true, "secondary": true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(FallbackConfig{Kind: "llm"})
			used, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
				if tt.failing[v] {
					return "", errTest
				}
				return v, nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if used != tt.wantUsed {
				t.Errorf("used = %q, want %q", used, tt.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	clock := newFakeClock()
	metrics, reader := testMetrics(t)
	fg := newGroup(FallbackConfig{
		Kind:           "stt",
		Metrics:        metrics,
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, Now: clock.Now},
	})

	var calls []string
	fn := func(v string) error {
		calls = append(calls, v)
		if v == "primary" {
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	want := []string{"primary", "secondary", "primary", "secondary", "secondary"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	status := fg.Status()
	if status[0].State != "open" || status[1].State != "closed" {
		t.Errorf("Status() = %+v", status)
	}
	if got := requests(t, reader, "primary", "error"); got != 2 {
		t.Errorf("primary errors = %d, want 2", got)
	}
	if got := requests(t, reader, "primary", "skipped"); got != 1 {
		t.Errorf("primary skipped = %d, want 1", got)
	}
	if got := requests(t, reader, "secondary", "ok"); got != 3 {
		t.Errorf("secondary ok = %d, want 3", got)
	}

	// The primary is probed again once its reset timeout has passed.
	clock.Advance(time.Minute)
	calls = nil
	_ = fg.Execute(context.Background(), fn)
	if len(calls) == 0 || calls[0] != "primary" {
		t.Errorf("calls after reset timeout = %v, want primary first", calls)
	}
}

func TestFallbackGroup_StopsWhenContextDone(t *testing.T) {
	fg := newGroup(FallbackConfig{Kind: "llm"})
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestFallbackGroup_Len(t *testing.T) {
	fg := newGroup(FallbackConfig{})
	if fg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", fg.Len())
	}
}
