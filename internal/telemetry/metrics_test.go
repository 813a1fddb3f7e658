package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("%s metric not found", name)
	}
	data, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data for %s, got %T", name, m.Data)
	}
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordProbe(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordProbe(ctx, "https://a.example", true, 50*time.Millisecond)
	m.RecordProbe(ctx, "https://b.example", false, 5*time.Second)
	m.RecordProbe(ctx, "https://b.example", false, 5*time.Second)

	rm := collectMetrics(t, reader)

	if got := sumOf(t, rm, "pulsewatch.probe.count"); got != 3 {
		t.Errorf("probe count = %d, want 3", got)
	}
	if got := sumOf(t, rm, "pulsewatch.probe.failures"); got != 2 {
		t.Errorf("probe failures = %d, want 2", got)
	}

	lat := findMetric(rm, "pulsewatch.probe.latency")
	if lat == nil {
		t.Fatal("pulsewatch.probe.latency metric not found")
	}
	hist, ok := lat.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", lat.Data)
	}
	// one data point per url attribute set
	if len(hist.DataPoints) != 2 {
		t.Fatalf("expected 2 histogram data points, got %d", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		url, _ := dp.Attributes.Value("url")
		switch url.AsString() {
		case "https://a.example":
			if dp.Count != 1 || dp.Sum != 50 {
				t.Errorf("a.example histogram count=%d sum=%v, want 1/50", dp.Count, dp.Sum)
			}
		case "https://b.example":
			if dp.Count != 2 || dp.Sum != 10000 {
				t.Errorf("b.example histogram count=%d sum=%v, want 2/10000", dp.Count, dp.Sum)
			}
		default:
			t.Errorf("unexpected url attribute %q", url.AsString())
		}
	}
}

func TestMetrics_SkipsCyclesAndAlerts(t *testing.T) {
	reader, mp := newTestMeter()
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordSkip(ctx, "https://a.example")
	m.RecordAlertFailure(ctx, "https://a.example")
	m.RecordCycle(ctx, 1500*time.Millisecond)

	rm := collectMetrics(t, reader)
	if got := sumOf(t, rm, "pulsewatch.probe.skipped"); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if got := sumOf(t, rm, "pulsewatch.alert.failures"); got != 1 {
		t.Errorf("alert failures = %d, want 1", got)
	}

	cycle := findMetric(rm, "pulsewatch.cycle.duration")
	if cycle == nil {
		t.Fatal("pulsewatch.cycle.duration metric not found")
	}
	hist := cycle.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 1.5 {
		t.Errorf("cycle duration data points = %+v, want one with sum 1.5", hist.DataPoints)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// none of these may panic
	m.RecordProbe(ctx, "https://a.example", true, time.Millisecond)
	m.RecordSkip(ctx, "https://a.example")
	m.RecordCycle(ctx, time.Second)
	m.RecordAlertFailure(ctx, "https://a.example")
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if p.Enabled() || p.TracerProvider != nil || p.MeterProvider != nil {
		t.Errorf("providers = %+v, want none", p)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestSetup_InstallsTracerAndMeterProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	// exporters connect lazily, so an unreachable collector is fine here
	p, err := Setup(context.Background(), Config{Endpoint: "http://127.0.0.1:1", ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	if !p.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}
	if _, ok := p.MeterProvider.(*metric.MeterProvider); !ok {
		t.Errorf("MeterProvider = %T, want *metric.MeterProvider", p.MeterProvider)
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("meter provider not installed globally")
	}
	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("tracer provider not installed globally")
	}

	// the installed provider accepts the engine's instruments
	if _, err := NewMetrics(p.MeterProvider.Meter(TracerName)); err != nil {
		t.Errorf("NewMetrics() error = %v", err)
	}
}
