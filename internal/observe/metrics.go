// Package observe provides application-wide observability primitives for
// Liveline: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Liveline metrics.
const meterName = "github.com/liveline-audio/liveline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks session open latency, from dial to the
	// server's setup acknowledgment.
	HandshakeDuration metric.Float64Histogram

	// BufferedAudio tracks how far playback is scheduled ahead of real
	// time, sampled when chunks arrive.
	BufferedAudio metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound capture frames delivered to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames discarded because the send queue
	// was full.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks handed to the playback
	// scheduler.
	ChunksScheduled metric.Int64Counter

	// DecodeFailures counts inbound chunks dropped as malformed.
	DecodeFailures metric.Int64Counter

	// Interruptions counts agent turns cut off by caller speech.
	Interruptions metric.Int64Counter

	// TurnsCommitted counts committed transcript turns. Use with attribute:
	//   attribute.String("role", ...)
	TurnsCommitted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time audio latencies.
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
	if met.HandshakeDuration, err = m.Float64Histogram("liveline.session.handshake.duration",
		metric.WithDescription("Latency of session open, from dial to setup acknowledgment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BufferedAudio, err = m.Float64Histogram("liveline.playback.buffered",
		metric.WithDescription("Audio scheduled ahead of the playback clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("liveline.capture.frames_sent",
		metric.WithDescription("Total capture frames delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("liveline.capture.frames_dropped",
		metric.WithDescription("Total capture frames dropped due to a full send queue."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("liveline.playback.chunks_scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("liveline.playback.decode_failures",
		metric.WithDescription("Total inbound chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("liveline.session.interruptions",
		metric.WithDescription("Total agent turns interrupted by caller speech."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCommitted, err = m.Int64Counter("liveline.transcript.turns_committed",
		metric.WithDescription("Total committed transcript turns by role."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("liveline.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("liveline.http.request.duration",
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

// RecordTurnCommitted records one committed transcript turn for role.
func (m *Metrics) RecordTurnCommitted(ctx context.Context, role string) {
	m.TurnsCommitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordBuffered records the current playback lead time in seconds.
func (m *Metrics) RecordBuffered(ctx context.Context, seconds float64) {
	m.BufferedAudio.Record(ctx, seconds)
}
