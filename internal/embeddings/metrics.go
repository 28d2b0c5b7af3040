package embeddings

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/truthd/internal/embeddings"

// Metrics holds embedding metrics.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	errors   metric.Int64Counter
}

// NewMetrics creates the instruments on meter. Failures are logged and the
// affected instrument is skipped.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	m := &Metrics{}
	ctx := context.Background()
	var err error

	m.duration, err = meter.Float64Histogram(
		"truthd.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation on cache miss, labeled by model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.requests, err = meter.Int64Counter(
		"truthd.embedding.requests_total",
		metric.WithDescription("Embedding requests by model and source (cache, model)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"truthd.embedding.errors_total",
		metric.WithDescription("Embedding generation errors by model"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordHit(ctx context.Context, model string) {
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model), attribute.String("source", "cache")))
	}
}

func (m *Metrics) recordGeneration(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model), attribute.String("source", "model")))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
