package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the counter value of the data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
	}{
		{"hearken.frames.processed", m.FramesProcessed},
		{"hearken.frames.dropped", m.FramesDropped},
		{"hearken.frames.speech", m.SpeechFrames},
		{"hearken.speaker.profiles_created", m.ProfilesCreated},
		{"hearken.speaker.changes", m.SpeakerChanges},
		{"hearken.segments.forced", m.ForcedSegments},
		{"hearken.dispatcher.rejected", m.DispatcherRejected},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, 3)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatal("metric not found")
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
				t.Errorf("data = %+v", met.Data)
			}
		})
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"hearken.stt.duration", m.STTDuration},
		{"hearken.llm.duration", m.LLMDuration},
		{"hearken.embedding.duration", m.EmbeddingDuration},
		{"hearken.store.duration", m.StoreDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "deepgram", "stt")
	m.RecordModeTransition(ctx, "LISTENING", "GEMMA_CONVERSATION")
	m.RecordFeedback(ctx, "helpful")
	m.RecordFeedback(ctx, "helpful")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "hearken.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("requests ok = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "hearken.provider.errors", "provider", "deepgram"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "hearken.conversation.transitions", "to", "GEMMA_CONVERSATION"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "hearken.feedback", "rating", "helpful"); got != 2 {
		t.Errorf("feedback = %d, want 2", got)
	}
}

func TestGaugeAndUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SpeakerCount.Record(ctx, 1)
	m.SpeakerCount.Record(ctx, 2)
	m.DispatcherInFlight.Add(ctx, 1)
	m.DispatcherInFlight.Add(ctx, 1)
	m.DispatcherInFlight.Add(ctx, -1)

	rm := collect(t, reader)
	gauge, ok := findMetric(rm, "hearken.speaker.count").Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 2 {
		t.Errorf("speaker count = %+v", findMetric(rm, "hearken.speaker.count").Data)
	}
	sum, ok := findMetric(rm, "hearken.dispatcher.in_flight").Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("in flight = %+v", findMetric(rm, "hearken.dispatcher.in_flight").Data)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
