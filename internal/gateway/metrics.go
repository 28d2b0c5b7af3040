package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/truthd/internal/gateway"

type metrics struct {
	requests metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	// Instrument creation only fails on invalid names; a nil instrument is skipped.
	m.requests, _ = meter.Int64Counter(
		"truthd.gateway.requests",
		metric.WithDescription("Model gateway operations by op and outcome (ok, schema_mismatch, error)"),
		metric.WithUnit("{request}"),
	)
	m.retries, _ = meter.Int64Counter(
		"truthd.gateway.retries",
		metric.WithDescription("Retried model gateway attempts by op"),
		metric.WithUnit("{retry}"),
	)
	m.duration, _ = meter.Float64Histogram(
		"truthd.gateway.duration_seconds",
		metric.WithDescription("Duration of model gateway operations including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	return m
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isSchemaMismatch(err):
		return "schema_mismatch"
	default:
		return "error"
	}
}

func (m *metrics) record(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome(err)))
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func (m *metrics) retry(ctx context.Context, op string) {
	if m.retries != nil {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
