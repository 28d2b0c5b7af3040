package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/cache"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrEmptyInput indicates an empty text.
var ErrEmptyInput = errors.New("empty input text")

// Embedder produces a vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Service.
type Options struct {
	Logger *logging.Logger
	Meter  metric.Meter
}

// Service embeds text through the model, consulting the content-addressed
// cache first.
type Service struct {
	client  Embedder
	cache   cache.EmbeddingCache
	model   string
	logger  *logging.Logger
	metrics *Metrics
}

// NewService returns a Service for model. A nil cache disables caching.
func NewService(client Embedder, c cache.EmbeddingCache, model string, opts Options) *Service {
	s := &Service{client: client, cache: c, model: model, logger: opts.Logger}
	if s.cache == nil {
		s.cache = cache.NopEmbedding{}
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	s.metrics = NewMetrics(meter, s.logger)
	return s
}

// Model returns the embedding model name.
func (s *Service) Model() string { return s.model }

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	hash := cache.TextHash(text)
	if vec, ok := s.cache.Get(ctx, s.model, hash); ok {
		s.metrics.recordHit(ctx, s.model)
		return vec, nil
	}

	start := time.Now()
	vec, err := s.client.Embed(ctx, text)
	s.metrics.recordGeneration(ctx, s.model, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, s.model, hash, vec); err != nil {
		s.logger.Warn(ctx, "embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}
