package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const backendPostgres = "postgres"

// PostgresExtraction stores extractions in the extraction_cache table.
type PostgresExtraction struct {
	db *sql.DB
}

func NewPostgresExtraction(db *sql.DB) *PostgresExtraction {
	return &PostgresExtraction{db: db}
}

func (c *PostgresExtraction) Get(ctx context.Context, model string, turnID int64, textHash string) (json.RawMessage, bool) {
	var (
		payload []byte
		stored  string
	)
	err := c.db.QueryRowContext(ctx, `
SELECT extracted_json, text_hash FROM extraction_cache WHERE model = $1 AND turn_id = $2`,
		model, turnID).Scan(&payload, &stored)
	hit := err == nil && stored == textHash && json.Valid(payload)
	observe(kindExtraction, backendPostgres, hit)
	if !hit {
		return nil, false
	}
	return json.RawMessage(payload), true
}

func (c *PostgresExtraction) Put(ctx context.Context, model string, turnID int64, textHash string, payload json.RawMessage) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO extraction_cache (model, turn_id, text_hash, extracted_json)
VALUES ($1, $2, $3, $4)
ON CONFLICT (model, turn_id)
DO UPDATE SET extracted_json = EXCLUDED.extracted_json, text_hash = EXCLUDED.text_hash, updated_at = now()`,
		model, turnID, textHash, []byte(payload))
	if err != nil {
		err = fmt.Errorf("put extraction cache: %w", err)
	}
	return observeWrite(kindExtraction, backendPostgres, err)
}

// PostgresEmbedding stores vectors in the embedding_cache table.
type PostgresEmbedding struct {
	db *sql.DB
}

func NewPostgresEmbedding(db *sql.DB) *PostgresEmbedding {
	return &PostgresEmbedding{db: db}
}

func (c *PostgresEmbedding) Get(ctx context.Context, model, textHash string) ([]float32, bool) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT embedding FROM embedding_cache WHERE model = $1 AND text_hash = $2`,
		model, textHash).Scan(&payload)
	var vec []float32
	hit := err == nil && json.Unmarshal(payload, &vec) == nil && len(vec) > 0
	observe(kindEmbedding, backendPostgres, hit)
	if !hit {
		return nil, false
	}
	return vec, true
}

func (c *PostgresEmbedding) Put(ctx context.Context, model, textHash string, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO embedding_cache (model, text_hash, embedding)
VALUES ($1, $2, $3)
ON CONFLICT (model, text_hash) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
		model, textHash, payload)
	if err != nil {
		err = fmt.Errorf("put embedding cache: %w", err)
	}
	return observeWrite(kindEmbedding, backendPostgres, err)
}
