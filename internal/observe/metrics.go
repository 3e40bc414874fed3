// Package observe provides application-wide observability primitives for
// Voxwire: OpenTelemetry metrics and the provider bootstrap that bridges
// them to a Prometheus scrape endpoint.
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

// meterName is the instrumentation scope name used for all Voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesSent counts capture frames delivered to the remote service.
	FramesSent metric.Int64Counter

	// FramesReceived counts synthesized audio frames received from the
	// remote service.
	FramesReceived metric.Int64Counter

	// FramesDropped counts malformed inbound frames discarded at the codec
	// boundary.
	FramesDropped metric.Int64Counter

	// PlaybackGaps counts playback cursor resets caused by silence gaps in
	// the inbound stream.
	PlaybackGaps metric.Int64Counter

	// SessionTransitions counts session state transitions. Use with
	// attribute: attribute.String("state", ...)
	SessionTransitions metric.Int64Counter

	// --- Error counters ---

	// SessionFailures counts sessions terminated by an error. Use with
	// attribute: attribute.String("kind", ...)
	SessionFailures metric.Int64Counter

	// --- Histograms ---

	// GapLength tracks the length of playback silence gaps.
	GapLength metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// gapBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational turn gaps.
var gapBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voxwire.frames.sent",
		metric.WithDescription("Total capture frames sent to the remote service."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxwire.frames.received",
		metric.WithDescription("Total synthesized audio frames received from the remote service."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxwire.frames.dropped",
		metric.WithDescription("Total malformed inbound frames discarded at the codec boundary."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackGaps, err = m.Int64Counter("voxwire.playback.gaps",
		metric.WithDescription("Total playback cursor resets after inbound silence gaps."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("voxwire.session.transitions",
		metric.WithDescription("Total session state transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionFailures, err = m.Int64Counter("voxwire.session.failures",
		metric.WithDescription("Total sessions terminated by an error, by error kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.GapLength, err = m.Float64Histogram("voxwire.playback.gap_length",
		metric.WithDescription("Length of playback silence gaps."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
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

// RecordTransition records a session state transition counter increment.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordFailure records a session failure counter increment by error kind.
func (m *Metrics) RecordFailure(ctx context.Context, kind string) {
	m.SessionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
