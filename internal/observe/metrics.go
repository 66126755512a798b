// Package observe provides application-wide observability primitives for
// realtalk: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the metrics and health endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all realtalk metrics.
const meterName = "github.com/MrWong99/realtalk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio counters ---

	// FramesCaptured counts frames read from the capture device and sent.
	FramesCaptured metric.Int64Counter

	// FramesPlayed counts audio deltas written to the playback device.
	FramesPlayed metric.Int64Counter

	// AudioBytes counts PCM bytes moved. Use with attribute:
	//   attribute.String("direction", "sent"|"received")
	AudioBytes metric.Int64Counter

	// --- Protocol counters ---

	// InboundEvents counts decoded inbound events. Use with attribute:
	//   attribute.String("type", ...)
	InboundEvents metric.Int64Counter

	// DecodeErrors counts inbound messages that could not be decoded.
	DecodeErrors metric.Int64Counter

	// SessionErrors counts sessions that ended in failure. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Latency ---

	// SendDuration tracks the time taken to write one outbound message.
	SendDuration metric.Float64Histogram

	// SessionDuration tracks the wall-clock length of a streaming session.
	SessionDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live realtime sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration times requests to the metrics and health server,
	// by "path" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// sendBuckets are histogram boundaries (in seconds) for single websocket
// writes.
var sendBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// sessionBuckets are histogram boundaries (in seconds) for whole sessions.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("realtalk.audio.frames_captured",
		metric.WithDescription("Audio frames captured and sent to the service."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("realtalk.audio.frames_played",
		metric.WithDescription("Audio deltas written to the playback device."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("realtalk.audio.bytes",
		metric.WithDescription("PCM bytes moved by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.InboundEvents, err = m.Int64Counter("realtalk.events.inbound",
		metric.WithDescription("Inbound realtime events by type."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("realtalk.events.decode_errors",
		metric.WithDescription("Inbound messages that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("realtalk.session.errors",
		metric.WithDescription("Sessions that ended in failure by error kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SendDuration, err = m.Float64Histogram("realtalk.send.duration",
		metric.WithDescription("Latency of a single outbound websocket write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("realtalk.session.duration",
		metric.WithDescription("Wall-clock length of streaming sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("realtalk.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("realtalk.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordFrameSent records one captured frame of n bytes and the time its
// send took.
func (m *Metrics) RecordFrameSent(ctx context.Context, n int, took time.Duration) {
	m.FramesCaptured.Add(ctx, 1)
	m.AudioBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", "sent")))
	m.SendDuration.Record(ctx, took.Seconds())
}

// RecordFramePlayed records one played delta of n bytes.
func (m *Metrics) RecordFramePlayed(ctx context.Context, n int) {
	m.FramesPlayed.Add(ctx, 1)
	m.AudioBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", "received")))
}

// RecordEvent records one decoded inbound event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordDecodeError records one inbound message that failed to decode.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}

// RecordSessionError records a session that ended in failure.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
