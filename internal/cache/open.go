package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/redis/go-redis/v9"
)

// Set is the pair of caches used by the pipeline.
type Set struct {
	Extraction ExtractionCache
	Embedding  EmbeddingCache

	redis *redis.Client
}

// Open builds caches for cfg. db may be nil when the database driver is
// memory, in which case the extraction cache is kept in-process.
func Open(ctx context.Context, cfg config.CacheConfig, db *sql.DB) (*Set, error) {
	s := &Set{}
	size := cfg.MemorySize
	if size <= 0 {
		size = 4096
	}

	if db != nil {
		s.Extraction = NewPostgresExtraction(db)
	} else {
		ext, err := NewMemoryExtraction(size)
		if err != nil {
			return nil, err
		}
		s.Extraction = ext
	}

	switch cfg.Backend {
	case config.CacheBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("cache backend postgres requires a postgres database")
		}
		s.Embedding = NewPostgresEmbedding(db)
	case config.CacheBackendRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.redis.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		s.Embedding = NewRedisEmbedding(s.redis, cfg.RedisTTLOrDefault())
	case config.CacheBackendMemory:
		emb, err := NewMemoryEmbedding(size)
		if err != nil {
			return nil, err
		}
		s.Embedding = emb
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	return s, nil
}

// Close releases backend connections owned by the set.
func (s *Set) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
