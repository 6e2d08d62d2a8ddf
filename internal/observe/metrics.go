// Package observe provides application-wide observability primitives for
// Loba: OpenTelemetry metrics, tracing, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Loba metrics.
const meterName = "github.com/lobahq/loba"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency.
	TranslateDuration metric.Float64Histogram

	// PipelineDuration tracks segment-close to subtitle-emit latency, the
	// figure the audience actually perceives as caption lag.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsTotal counts finalized speech segments. Use with attribute:
	//   attribute.String("reason", ...)
	SegmentsTotal metric.Int64Counter

	// EventsTotal counts broadcast subtitle events. Use with attribute:
	//   attribute.String("type", ...)
	EventsTotal metric.Int64Counter

	// SegmentsDropped counts segments evicted from the work queue or
	// discarded as sub-minimum speech. Use with attribute:
	//   attribute.String("cause", ...)
	SegmentsDropped metric.Int64Counter

	// FillerDrops counts transcripts discarded by the hygiene filter.
	FillerDrops metric.Int64Counter

	// ProviderErrors counts STT and translation failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// Subscribers tracks the number of connected overlay subscribers.
	Subscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for live-caption latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("loba.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("loba.translate.duration",
		metric.WithDescription("Latency of translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("loba.pipeline.duration",
		metric.WithDescription("Segment-close to subtitle-emit latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsTotal, err = m.Int64Counter("loba.segments.total",
		metric.WithDescription("Total finalized speech segments by termination reason."),
	); err != nil {
		return nil, err
	}
	if met.EventsTotal, err = m.Int64Counter("loba.events.total",
		metric.WithDescription("Total broadcast subtitle events by type."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("loba.segments.dropped",
		metric.WithDescription("Segments dropped before transcription by cause."),
	); err != nil {
		return nil, err
	}
	if met.FillerDrops, err = m.Int64Counter("loba.hygiene.filler_drops",
		metric.WithDescription("Transcripts discarded by the hygiene filter."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("loba.provider.errors",
		metric.WithDescription("Total provider errors by pipeline stage and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Subscribers, err = m.Int64UpDownCounter("loba.subscribers",
		metric.WithDescription("Number of connected overlay subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("loba.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment records one finalized segment with its termination reason.
func (m *Metrics) RecordSegment(ctx context.Context, reason string) {
	m.SegmentsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordEvent records one broadcast subtitle event by type.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.EventsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordSegmentDrop records a segment dropped before transcription.
func (m *Metrics) RecordSegmentDrop(ctx context.Context, cause string) {
	m.SegmentsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordProviderError records an STT or translation failure.
func (m *Metrics) RecordProviderError(ctx context.Context, stage, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", kind),
		),
	)
}
