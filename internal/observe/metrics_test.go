package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxwire/voxwire/internal/observe"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	t.Parallel()

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.FramesSent == nil || m.FramesReceived == nil || m.FramesDropped == nil {
		t.Error("frame counters not initialised")
	}
	if m.PlaybackGaps == nil || m.GapLength == nil {
		t.Error("playback instruments not initialised")
	}
	if m.SessionTransitions == nil || m.SessionFailures == nil || m.ActiveSessions == nil {
		t.Error("session instruments not initialised")
	}
}

func TestDefaultMetricsReturnsSameInstance(t *testing.T) {
	t.Parallel()

	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Error("DefaultMetrics should return a single shared instance")
	}
}

func TestRecordedValuesAreCollectable(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.FramesSent.Add(ctx, 3)
	m.RecordTransition(ctx, "connected")
	m.RecordFailure(ctx, "transport")
	m.GapLength.Record(ctx, 0.15)
	m.ActiveSessions.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("no scope metrics collected")
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	for _, want := range []string{
		"voxwire.frames.sent",
		"voxwire.session.transitions",
		"voxwire.session.failures",
		"voxwire.playback.gap_length",
		"voxwire.active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not collected; got %v", want, names)
		}
	}
}
