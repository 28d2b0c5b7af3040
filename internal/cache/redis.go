package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// RedisEmbedding shares embeddings across processes with a TTL.
type RedisEmbedding struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisEmbedding wraps client. ttl <= 0 stores without expiry.
func NewRedisEmbedding(client redis.Cmdable, ttl time.Duration) *RedisEmbedding {
	return &RedisEmbedding{client: client, ttl: ttl}
}

func embeddingRedisKey(model, textHash string) string {
	return fmt.Sprintf("truthd:emb:%s:%s", model, textHash)
}

func (c *RedisEmbedding) Get(ctx context.Context, model, textHash string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, embeddingRedisKey(model, textHash)).Bytes()
	var vec []float32
	hit := err == nil && json.Unmarshal(raw, &vec) == nil && len(vec) > 0
	observe(kindEmbedding, backendRedis, hit)
	if !hit {
		return nil, false
	}
	return vec, true
}

func (c *RedisEmbedding) Put(ctx context.Context, model, textHash string, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	err = c.client.Set(ctx, embeddingRedisKey(model, textHash), payload, ttl).Err()
	if err != nil {
		err = fmt.Errorf("put embedding cache: %w", err)
	}
	return observeWrite(kindEmbedding, backendRedis, err)
}
