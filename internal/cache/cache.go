// Package cache implements the advisory content-addressed caches that sit in
// front of the model gateway.
//
// Get never fails: a missing, unreadable or corrupt entry is a miss. Put
// returns an error so callers can log it, but a failed write must never
// fail the pipeline operation that attempted it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// TextHash is the content hash used in every cache key.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ExtractionCache stores the last extraction for (model, turn). Get is a hit
// only when the stored text hash equals textHash.
type ExtractionCache interface {
	Get(ctx context.Context, model string, turnID int64, textHash string) (json.RawMessage, bool)
	Put(ctx context.Context, model string, turnID int64, textHash string, payload json.RawMessage) error
}

// EmbeddingCache stores vectors keyed by (model, text hash).
type EmbeddingCache interface {
	Get(ctx context.Context, model, textHash string) ([]float32, bool)
	Put(ctx context.Context, model, textHash string, vec []float32) error
}

// NopExtraction is an ExtractionCache that always misses.
type NopExtraction struct{}

func (NopExtraction) Get(context.Context, string, int64, string) (json.RawMessage, bool) {
	return nil, false
}

func (NopExtraction) Put(context.Context, string, int64, string, json.RawMessage) error {
	return nil
}

// NopEmbedding is an EmbeddingCache that always misses.
type NopEmbedding struct{}

func (NopEmbedding) Get(context.Context, string, string) ([]float32, bool) { return nil, false }

func (NopEmbedding) Put(context.Context, string, string, []float32) error { return nil }
