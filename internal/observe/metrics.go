// Package observe provides application-wide observability primitives for
// echorelay: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
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

// meterName is the instrumentation scope name used for all echorelay metrics.
const meterName = "github.com/MrWong99/echorelay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks wall-clock lifetime of relay sessions.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FramesForwarded counts inbound audio chunks forwarded upstream.
	// Use with attribute.String("transport", "ws"|"http").
	FramesForwarded metric.Int64Counter

	// UtterancesRelayed counts completed assistant utterances encoded and
	// sent downstream.
	UtterancesRelayed metric.Int64Counter

	// RelayErrors counts terminal session errors. Use with
	// attribute.String("kind", ...), the relay.Kind label.
	RelayErrors metric.Int64Counter

	// AltTextRequests counts alt-text generations by status.
	AltTextRequests metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational sessions: sub-second handler latencies up to the 30s
// session bound.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("echorelay.session.duration",
		metric.WithDescription("Wall-clock lifetime of relay sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("echorelay.sessions.active",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("echorelay.frames.forwarded",
		metric.WithDescription("Inbound audio chunks forwarded upstream, by transport."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesRelayed, err = m.Int64Counter("echorelay.utterances.relayed",
		metric.WithDescription("Completed assistant utterances sent downstream."),
	); err != nil {
		return nil, err
	}
	if met.RelayErrors, err = m.Int64Counter("echorelay.relay.errors",
		metric.WithDescription("Terminal relay session errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.AltTextRequests, err = m.Int64Counter("echorelay.alttext.requests",
		metric.WithDescription("Alt-text generations by status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("echorelay.http.request.duration",
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

// RecordRelayError records a terminal session error with its kind label.
func (m *Metrics) RecordRelayError(ctx context.Context, kind string) {
	m.RelayErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFrame records one forwarded audio chunk for the given transport.
func (m *Metrics) RecordFrame(ctx context.Context, transport string) {
	m.FramesForwarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("transport", transport)),
	)
}

// RecordAltText records one alt-text request outcome.
func (m *Metrics) RecordAltText(ctx context.Context, status string) {
	m.AltTextRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
