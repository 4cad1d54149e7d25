// Package observe provides application-wide observability primitives for
// VoxMark: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all VoxMark metrics.
const meterName = "github.com/voxmark/voxmark"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ContentDuration tracks Gemini content-generation latency. Use with
	// attribute: attribute.String("kind", ...) — trends, article, image, speech.
	ContentDuration metric.Float64Histogram

	// SessionDuration tracks live voice session lifetime, Connect to teardown.
	SessionDuration metric.Float64Histogram

	// --- Audio pipeline counters ---

	// ChunksSent counts capture chunks delivered to the live session.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts model audio chunks received from the live session.
	ChunksReceived metric.Int64Counter

	// FramesDropped counts capture frames discarded because the send path was
	// not keeping up.
	FramesDropped metric.Int64Counter

	// PlaybackScheduled counts segments handed to the output device.
	PlaybackScheduled metric.Int64Counter

	// --- Transcript counters ---

	// TranscriptFragments counts transcript fragments appended.
	TranscriptFragments metric.Int64Counter

	// KeywordHits counts campaign keyword occurrences spotted in transcripts.
	// Use with attribute: attribute.String("keyword", ...)
	KeywordHits metric.Int64Counter

	// --- Content studio counters ---

	// ContentRequests counts content-generation API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ContentRequests metric.Int64Counter

	// ContentErrors counts content-generation failures. Use with attribute:
	//   attribute.String("kind", ...)
	ContentErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for content-generation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for live
// session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ContentDuration, err = m.Float64Histogram("voxmark.content.duration",
		metric.WithDescription("Latency of Gemini content generation by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxmark.session.duration",
		metric.WithDescription("Live voice session lifetime from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio pipeline counters.
	if met.ChunksSent, err = m.Int64Counter("voxmark.audio.chunks_sent",
		metric.WithDescription("Capture chunks delivered to the live session."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxmark.audio.chunks_received",
		metric.WithDescription("Model audio chunks received from the live session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxmark.audio.frames_dropped",
		metric.WithDescription("Capture frames dropped because the send path fell behind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Int64Counter("voxmark.playback.scheduled",
		metric.WithDescription("Segments handed to the output device."),
	); err != nil {
		return nil, err
	}

	// Transcript counters.
	if met.TranscriptFragments, err = m.Int64Counter("voxmark.transcript.fragments",
		metric.WithDescription("Transcript fragments appended."),
	); err != nil {
		return nil, err
	}
	if met.KeywordHits, err = m.Int64Counter("voxmark.transcript.keyword_hits",
		metric.WithDescription("Campaign keyword occurrences spotted in transcripts."),
	); err != nil {
		return nil, err
	}

	// Content studio counters.
	if met.ContentRequests, err = m.Int64Counter("voxmark.content.requests",
		metric.WithDescription("Content generation requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ContentErrors, err = m.Int64Counter("voxmark.content.errors",
		metric.WithDescription("Content generation failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxmark.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmark.http.request.duration",
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

// RecordContentRequest records a content-generation request with the
// standard attribute set.
func (m *Metrics) RecordContentRequest(ctx context.Context, kind, status string) {
	m.ContentRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordContentError records a content-generation failure.
func (m *Metrics) RecordContentError(ctx context.Context, kind string) {
	m.ContentErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordKeywordHit records one spotted campaign keyword occurrence.
func (m *Metrics) RecordKeywordHit(ctx context.Context, keyword string) {
	m.KeywordHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("keyword", keyword)),
	)
}
