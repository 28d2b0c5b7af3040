package cache

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", TextHash(""))
	assert.Equal(t, TextHash("abc"), TextHash("abc"))
	assert.NotEqual(t, TextHash("abc"), TextHash("abc "))
}

func TestMemoryExtraction_HashGuard(t *testing.T) {
	c, err := NewMemoryExtraction(8)
	require.NoError(t, err)
	ctx := context.Background()
	payload := json.RawMessage(`{"topics":["launch"]}`)

	_, ok := c.Get(ctx, "m", 1, TextHash("v1"))
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "m", 1, TextHash("v1"), payload))
	got, ok := c.Get(ctx, "m", 1, TextHash("v1"))
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(got))

	_, ok = c.Get(ctx, "m", 1, TextHash("v2"))
	assert.False(t, ok, "edited text must miss")

	_, ok = c.Get(ctx, "other-model", 1, TextHash("v1"))
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "m", 1, TextHash("v2"), json.RawMessage(`{}`)))
	_, ok = c.Get(ctx, "m", 1, TextHash("v1"))
	assert.False(t, ok, "put overwrites the turn's entry")
}

func TestMemoryEmbedding_RoundTripAndIsolation(t *testing.T) {
	c, err := NewMemoryEmbedding(2)
	require.NoError(t, err)
	ctx := context.Background()

	vec := []float32{0.1, 0.2}
	require.NoError(t, c.Put(ctx, "m", "h", vec))
	vec[0] = 9

	got, ok := c.Get(ctx, "m", "h")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, got)

	before := testutil.ToFloat64(Lookups.WithLabelValues(kindEmbedding, backendMemory, "miss"))
	_, ok = c.Get(ctx, "m", "missing")
	assert.False(t, ok)
	after := testutil.ToFloat64(Lookups.WithLabelValues(kindEmbedding, backendMemory, "miss"))
	assert.Equal(t, before+1, after)
}

func TestPostgresExtraction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewPostgresExtraction(db)
	ctx := context.Background()

	sel := regexp.QuoteMeta(`SELECT extracted_json, text_hash FROM extraction_cache WHERE model = $1 AND turn_id = $2`)
	mock.ExpectQuery(sel).WithArgs("m", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"extracted_json", "text_hash"}).AddRow([]byte(`{"a":1}`), "h1"))
	mock.ExpectQuery(sel).WithArgs("m", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"extracted_json", "text_hash"}).AddRow([]byte(`{"a":1}`), "h1"))
	mock.ExpectQuery(sel).WithArgs("m", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"extracted_json", "text_hash"}).AddRow([]byte(`{broken`), "h1"))
	mock.ExpectQuery(sel).WithArgs("m", int64(5)).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO extraction_cache`)).
		WithArgs("m", int64(4), "h2", []byte(`{"b":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, ok := c.Get(ctx, "m", 4, "h1")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, ok = c.Get(ctx, "m", 4, "h2")
	assert.False(t, ok, "hash mismatch is a miss")

	_, ok = c.Get(ctx, "m", 4, "h1")
	assert.False(t, ok, "corrupt payload is a miss")

	_, ok = c.Get(ctx, "m", 5, "h1")
	assert.False(t, ok, "read errors are a miss")

	require.NoError(t, c.Put(ctx, "m", 4, "h2", json.RawMessage(`{"b":2}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEmbedding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewPostgresEmbedding(db)
	ctx := context.Background()

	sel := regexp.QuoteMeta(`SELECT embedding FROM embedding_cache WHERE model = $1 AND text_hash = $2`)
	mock.ExpectQuery(sel).WithArgs("m", "h").
		WillReturnRows(sqlmock.NewRows([]string{"embedding"}).AddRow([]byte(`[0.5,1]`)))
	mock.ExpectQuery(sel).WithArgs("m", "bad").
		WillReturnRows(sqlmock.NewRows([]string{"embedding"}).AddRow([]byte(`"nope"`)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO embedding_cache`)).
		WithArgs("m", "h", []byte(`[0.5,1]`)).
		WillReturnError(errors.New("disk full"))

	got, ok := c.Get(ctx, "m", "h")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 1}, got)

	_, ok = c.Get(ctx, "m", "bad")
	assert.False(t, ok)

	err = c.Put(ctx, "m", "h", []float32{0.5, 1})
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisEmbedding(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisEmbedding(client, time.Hour)
	ctx := context.Background()
	key := embeddingRedisKey("m", "h")

	mock.ExpectSet(key, []byte(`[1,2]`), time.Hour).SetVal("OK")
	mock.ExpectGet(key).SetVal(`[1,2]`)
	mock.ExpectGet(embeddingRedisKey("m", "corrupt")).SetVal(`{}`)
	mock.ExpectGet(embeddingRedisKey("m", "absent")).RedisNil()

	require.NoError(t, c.Put(ctx, "m", "h", []float32{1, 2}))

	got, ok := c.Get(ctx, "m", "h")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	_, ok = c.Get(ctx, "m", "corrupt")
	assert.False(t, ok)

	_, ok = c.Get(ctx, "m", "absent")
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_MemoryBackends(t *testing.T) {
	s, err := Open(context.Background(), config.CacheConfig{Backend: config.CacheBackendMemory, MemorySize: 4}, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &MemoryExtraction{}, s.Extraction)
	assert.IsType(t, &MemoryEmbedding{}, s.Embedding)
}

func TestOpen_PostgresBackendNeedsDatabase(t *testing.T) {
	_, err := Open(context.Background(), config.CacheConfig{Backend: config.CacheBackendPostgres}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), config.CacheConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)
}

func TestNopCaches(t *testing.T) {
	ctx := context.Background()
	_, ok := NopExtraction{}.Get(ctx, "m", 1, "h")
	assert.False(t, ok)
	assert.NoError(t, NopExtraction{}.Put(ctx, "m", 1, "h", nil))
	_, ok = NopEmbedding{}.Get(ctx, "m", "h")
	assert.False(t, ok)
	assert.NoError(t, NopEmbedding{}.Put(ctx, "m", "h", nil))
}
