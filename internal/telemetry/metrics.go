// Package telemetry records OpenTelemetry metrics and configures span export
// for the monitoring engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments updated by the scheduler. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	probes        metric.Int64Counter
	failures      metric.Int64Counter
	skips         metric.Int64Counter
	latency       metric.Float64Histogram
	cycleDuration metric.Float64Histogram
	alertFailures metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	probes, err := meter.Int64Counter("pulsewatch.probe.count",
		metric.WithDescription("Number of completed probes"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("pulsewatch.probe.failures",
		metric.WithDescription("Number of failed probes"),
	)
	if err != nil {
		return nil, err
	}

	skips, err := meter.Int64Counter("pulsewatch.probe.skipped",
		metric.WithDescription("Number of probes skipped because of backoff"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("pulsewatch.probe.latency",
		metric.WithDescription("Probe latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram("pulsewatch.cycle.duration",
		metric.WithDescription("Duration of a probe cycle in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	alertFailures, err := meter.Int64Counter("pulsewatch.alert.failures",
		metric.WithDescription("Number of alerts that could not be dispatched"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		probes:        probes,
		failures:      failures,
		skips:         skips,
		latency:       latency,
		cycleDuration: cycleDuration,
		alertFailures: alertFailures,
	}, nil
}

// RecordProbe counts one completed probe and its latency.
func (m *Metrics) RecordProbe(ctx context.Context, url string, ok bool, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("url", url))
	m.probes.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(latency)/float64(time.Millisecond), attrs)
	if !ok {
		m.failures.Add(ctx, 1, attrs)
	}
}

// RecordSkip counts a target skipped because of backoff.
func (m *Metrics) RecordSkip(ctx context.Context, url string) {
	if m == nil {
		return
	}
	m.skips.Add(ctx, 1, metric.WithAttributes(attribute.String("url", url)))
}

// RecordCycle records the duration of a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Record(ctx, d.Seconds())
}

// RecordAlertFailure counts an alert that could not be delivered.
func (m *Metrics) RecordAlertFailure(ctx context.Context, url string) {
	if m == nil {
		return
	}
	m.alertFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("url", url)))
}
