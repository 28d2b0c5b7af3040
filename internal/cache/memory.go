package cache

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const backendMemory = "memory"

type extractionKey struct {
	model  string
	turnID int64
}

type extractionEntry struct {
	hash    string
	payload json.RawMessage
}

// MemoryExtraction is a bounded in-process extraction cache.
type MemoryExtraction struct {
	lru *lru.Cache[extractionKey, extractionEntry]
}

// NewMemoryExtraction returns a cache holding at most size entries.
func NewMemoryExtraction(size int) (*MemoryExtraction, error) {
	c, err := lru.New[extractionKey, extractionEntry](size)
	if err != nil {
		return nil, fmt.Errorf("new extraction lru: %w", err)
	}
	return &MemoryExtraction{lru: c}, nil
}

func (c *MemoryExtraction) Get(_ context.Context, model string, turnID int64, textHash string) (json.RawMessage, bool) {
	e, ok := c.lru.Get(extractionKey{model, turnID})
	hit := ok && e.hash == textHash
	observe(kindExtraction, backendMemory, hit)
	if !hit {
		return nil, false
	}
	return append(json.RawMessage(nil), e.payload...), true
}

func (c *MemoryExtraction) Put(_ context.Context, model string, turnID int64, textHash string, payload json.RawMessage) error {
	c.lru.Add(extractionKey{model, turnID}, extractionEntry{hash: textHash, payload: append(json.RawMessage(nil), payload...)})
	return nil
}

type embeddingKey struct {
	model string
	hash  string
}

// MemoryEmbedding is a bounded in-process embedding cache.
type MemoryEmbedding struct {
	lru *lru.Cache[embeddingKey, []float32]
}

// NewMemoryEmbedding returns a cache holding at most size vectors.
func NewMemoryEmbedding(size int) (*MemoryEmbedding, error) {
	c, err := lru.New[embeddingKey, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("new embedding lru: %w", err)
	}
	return &MemoryEmbedding{lru: c}, nil
}

func (c *MemoryEmbedding) Get(_ context.Context, model, textHash string) ([]float32, bool) {
	vec, ok := c.lru.Get(embeddingKey{model, textHash})
	observe(kindEmbedding, backendMemory, ok)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (c *MemoryEmbedding) Put(_ context.Context, model, textHash string, vec []float32) error {
	c.lru.Add(embeddingKey{model, textHash}, append([]float32(nil), vec...))
	return nil
}
