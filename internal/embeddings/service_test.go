package embeddings

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/truthd/internal/cache"
	"github.com/fyrsmithlabs/truthd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
)

func TestService_CacheOrCall(t *testing.T) {
	fake := gatewaytest.NewFake()
	c, err := cache.NewMemoryEmbedding(8)
	require.NoError(t, err)
	tt := telemetry.NewTestTelemetry()
	svc := NewService(fake, c, "embed-test", Options{Meter: tt.Meter(instrumentationName)})
	ctx := context.Background()

	first, err := svc.Embed(ctx, "launch moves to march")
	require.NoError(t, err)
	second, err := svc.Embed(ctx, "launch moves to march")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Calls("embed"))
	assert.Equal(t, int64(1), tt.SumValue(t, "truthd.embedding.requests_total", attribute.String("source", "cache")))
	assert.Equal(t, int64(1), tt.SumValue(t, "truthd.embedding.requests_total", attribute.String("source", "model")))

	_, err = svc.Embed(ctx, "something else")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("embed"))
}

func TestService_EmptyInput(t *testing.T) {
	svc := NewService(gatewaytest.NewFake(), nil, "m", Options{})
	_, err := svc.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ErrorPropagatesAndIsNotCached(t *testing.T) {
	fake := gatewaytest.NewFake()
	fake.EmbedFunc = func(context.Context, string) ([]float32, error) { return nil, gatewaytest.ErrFakeUnavailable }
	c, err := cache.NewMemoryEmbedding(8)
	require.NoError(t, err)
	tt := telemetry.NewTestTelemetry()
	svc := NewService(fake, c, "m", Options{Meter: tt.Meter(instrumentationName)})

	_, err = svc.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, gatewaytest.ErrFakeUnavailable)
	_, ok := c.Get(context.Background(), "m", cache.TextHash("x"))
	assert.False(t, ok)
	assert.Equal(t, int64(1), tt.SumValue(t, "truthd.embedding.errors_total", attribute.String("model", "m")))
}

type brokenCache struct{ cache.NopEmbedding }

func (brokenCache) Put(context.Context, string, string, []float32) error { return assert.AnError }

func TestService_CacheWriteFailureIsAdvisory(t *testing.T) {
	tl := logging.NewTestLogger()
	svc := NewService(gatewaytest.NewFake(), brokenCache{}, "m", Options{Logger: tl.Logger})

	vec, err := svc.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
	tl.AssertLogged(t, zapcore.WarnLevel, "embedding cache write failed")
}
