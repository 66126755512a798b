package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// findMetric searches for a metric by name across all scope metrics.
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

// sumByAttr returns the int64 sum data point whose attribute key has value,
// or the single unattributed point when key is empty.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrameSent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx, 4800, 2*time.Millisecond)
	m.RecordFrameSent(ctx, 4800, 3*time.Millisecond)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "realtalk.audio.frames_captured", "", ""); got != 2 {
		t.Errorf("frames_captured = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "realtalk.audio.bytes", "direction", "sent"); got != 9600 {
		t.Errorf("bytes sent = %d, want 9600", got)
	}

	met := findMetric(rm, "realtalk.send.duration")
	if met == nil {
		t.Fatal("send duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("send duration is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("send duration data points = %+v, want one with count 2", hist.DataPoints)
	}
}

func TestRecordFramePlayed(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFramePlayed(ctx, 100)
	m.RecordFramePlayed(ctx, 250)
	m.RecordFrameSent(ctx, 10, time.Millisecond)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "realtalk.audio.frames_played", "", ""); got != 2 {
		t.Errorf("frames_played = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "realtalk.audio.bytes", "direction", "received"); got != 350 {
		t.Errorf("bytes received = %d, want 350", got)
	}
	if got := sumByAttr(t, rm, "realtalk.audio.bytes", "direction", "sent"); got != 10 {
		t.Errorf("bytes sent = %d, want 10", got)
	}
}

func TestRecordEventAndErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvent(ctx, "response.audio.delta")
	m.RecordEvent(ctx, "response.audio.delta")
	m.RecordEvent(ctx, "response.done")
	m.RecordDecodeError(ctx)
	m.RecordSessionError(ctx, "connection")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "realtalk.events.inbound", "type", "response.audio.delta"); got != 2 {
		t.Errorf("audio delta events = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "realtalk.events.inbound", "type", "response.done"); got != 1 {
		t.Errorf("response.done events = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "realtalk.events.decode_errors", "", ""); got != 1 {
		t.Errorf("decode_errors = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "realtalk.session.errors", "kind", "connection"); got != 1 {
		t.Errorf("session errors = %d, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "realtalk.active_sessions", "", ""); got != 1 {
		t.Errorf("active_sessions = %d, want 1", got)
	}
}

func TestSessionDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.SessionDuration.Record(context.Background(), 42)

	rm := collect(t, reader)
	met := findMetric(rm, "realtalk.session.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Sum != 42 {
		t.Errorf("sum = %v, want 42", hist.DataPoints[0].Sum)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Error("DefaultMetrics should return the same non-nil instance")
	}
}
