// Package observe provides application-wide observability primitives for
// Viva: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Viva metrics.
const meterName = "github.com/admitly/viva"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks time from dial start to the connected
	// acknowledgement.
	HandshakeDuration metric.Float64Histogram

	// SessionDuration tracks full interview session duration from first
	// connect to completion or interruption.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// ConnectAttempts counts connection attempts. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	ConnectAttempts metric.Int64Counter

	// ReconnectAttempts counts automatic reconnection attempts after a
	// transport drop.
	ReconnectAttempts metric.Int64Counter

	// TranscriptEntries counts transcript entries accepted into the log.
	// Use with attribute: attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// AudioFramesSent counts audio frames written to the transport.
	AudioFramesSent metric.Int64Counter

	// AudioFramesDropped counts captured frames discarded because the
	// transport or pipeline could not keep up.
	AudioFramesDropped metric.Int64Counter

	// --- Error counters ---

	// TransportErrors counts transport failures. Use with attribute:
	//   attribute.String("kind", ...)
	TransportErrors metric.Int64Counter

	// MalformedMessages counts inbound messages dropped by the protocol
	// decoder.
	MalformedMessages metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// handshake histogram. Session durations use wider buckets.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var sessionBuckets = []float64{
	30, 60, 120, 300, 600, 900, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HandshakeDuration, err = m.Float64Histogram("viva.transport.handshake.duration",
		metric.WithDescription("Latency from dial to connected acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("viva.session.duration",
		metric.WithDescription("Interview session duration from connect to completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectAttempts, err = m.Int64Counter("viva.transport.connect.attempts",
		metric.WithDescription("Total connection attempts by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("viva.transport.reconnect.attempts",
		metric.WithDescription("Total automatic reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("viva.transcript.entries",
		metric.WithDescription("Total transcript entries accepted, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesSent, err = m.Int64Counter("viva.audio.frames.sent",
		metric.WithDescription("Total audio frames written to the transport."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("viva.audio.frames.dropped",
		metric.WithDescription("Total captured audio frames discarded under backpressure."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TransportErrors, err = m.Int64Counter("viva.transport.errors",
		metric.WithDescription("Total transport failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.MalformedMessages, err = m.Int64Counter("viva.transport.malformed_messages",
		metric.WithDescription("Total inbound messages dropped by the protocol decoder."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("viva.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
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

// RecordConnectAttempt records a connection attempt with its outcome.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, endpoint, status string) {
	m.ConnectAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}

// RecordTranscriptEntry records one accepted transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordTransportError records a transport failure of the given kind.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
