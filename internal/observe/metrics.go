// Package observe provides Hearken's observability primitives:
// OpenTelemetry metrics exported through a Prometheus bridge, tracing
// helpers, a trace-aware slog logger, and HTTP middleware.
//
// Components take a *Metrics explicitly. [DefaultMetrics] follows the OTel
// global-provider convention for main; tests build their own with
// [NewMetrics] and an sdkmetric.ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/hearken"

// Metrics holds every instrument the application records. OTel instruments
// are safe for concurrent use.
type Metrics struct {
	// ─── frame loop ───

	FramesProcessed metric.Int64Counter
	FramesDropped   metric.Int64Counter
	SpeechFrames    metric.Int64Counter

	// ─── core state machines ───

	ProfilesCreated metric.Int64Counter
	SpeakerChanges  metric.Int64Counter
	ForcedSegments  metric.Int64Counter

	// ModeTransitions carries "from" and "to" attributes.
	ModeTransitions metric.Int64Counter

	// FeedbackRatings carries a "rating" attribute.
	FeedbackRatings metric.Int64Counter

	// SpeakerCount is the number of profiles in the current session.
	SpeakerCount metric.Int64Gauge

	// ─── providers and storage ───

	// ProviderRequests carries "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors carries "provider" and "kind".
	ProviderErrors metric.Int64Counter

	STTDuration       metric.Float64Histogram
	LLMDuration       metric.Float64Histogram
	EmbeddingDuration metric.Float64Histogram
	StoreDuration     metric.Float64Histogram

	// ─── dispatcher ───

	DispatcherInFlight metric.Int64UpDownCounter
	DispatcherRejected metric.Int64Counter

	// ─── HTTP ───

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesProcessed, "hearken.frames.processed", "Audio frames processed by the frame loop."},
		{&met.FramesDropped, "hearken.frames.dropped", "Audio frames dropped because the frame queue was full."},
		{&met.SpeechFrames, "hearken.frames.speech", "Frames classified as speech by the voice activity gate."},
		{&met.ProfilesCreated, "hearken.speaker.profiles_created", "Speaker profiles created."},
		{&met.SpeakerChanges, "hearken.speaker.changes", "Confirmed speaker changes."},
		{&met.ForcedSegments, "hearken.segments.forced", "Utterances finalized early because the speaker changed."},
		{&met.ModeTransitions, "hearken.conversation.transitions", "Conversation mode transitions by from and to mode."},
		{&met.FeedbackRatings, "hearken.feedback", "Feedback records by rating."},
		{&met.ProviderRequests, "hearken.provider.requests", "Provider requests by provider, kind and status."},
		{&met.ProviderErrors, "hearken.provider.errors", "Provider errors by provider and kind."},
		{&met.DispatcherRejected, "hearken.dispatcher.rejected", "Jobs rejected because the dispatcher was saturated."},
	}
	for _, c := range counters {
		v, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = v
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "hearken.stt.duration", "Latency of speech-to-text stream operations."},
		{&met.LLMDuration, "hearken.llm.duration", "Latency of LLM replies."},
		{&met.EmbeddingDuration, "hearken.embedding.duration", "Latency of text embedding requests."},
		{&met.StoreDuration, "hearken.store.duration", "Latency of conversation store writes."},
	}
	for _, h := range histograms {
		v, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = v
	}

	var err error
	if met.SpeakerCount, err = m.Int64Gauge("hearken.speaker.count",
		metric.WithDescription("Speaker profiles in the current session."),
	); err != nil {
		return nil, err
	}
	if met.DispatcherInFlight, err = m.Int64UpDownCounter("hearken.dispatcher.in_flight",
		metric.WithDescription("Dispatcher jobs currently running."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on
// [otel.GetMeterProvider]. Call it after [InitProvider] so the instruments
// bind to the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call with its outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordModeTransition counts one conversation mode change.
func (m *Metrics) RecordModeTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordFeedback counts one feedback record.
func (m *Metrics) RecordFeedback(ctx context.Context, rating string) {
	m.FeedbackRatings.Add(ctx, 1, metric.WithAttributes(Attr("rating", rating)))
}
