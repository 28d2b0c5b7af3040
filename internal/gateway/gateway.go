package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gateway is the model boundary used by the pipeline.
type Gateway interface {
	Extract(ctx context.Context, text string) (Extraction, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	CheckConflict(ctx context.Context, existingSummary, proposedSummary string) (ConflictCheck, error)
}

// maxResponseBytes bounds a single API response body.
const maxResponseBytes = 8 << 20

// Options carries optional collaborators for New.
type Options struct {
	Logger     *logging.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
	Retrier    *Retrier
	HTTPClient *http.Client
}

// OpenAI implements Gateway over the OpenAI chat completions and embeddings
// APIs.
type OpenAI struct {
	baseURL        string
	apiKey         config.Secret
	model          string
	embeddingModel string
	dimensions     int

	httpClient *http.Client
	limiter    *rate.Limiter
	retrier    *Retrier
	logger     *logging.Logger
	tracer     trace.Tracer
	metrics    *metrics
}

// New creates an OpenAI gateway.
func New(oc config.OpenAIConfig, ec config.EmbeddingsConfig, opts Options) (*OpenAI, error) {
	if !oc.APIKey.IsSet() {
		return nil, fmt.Errorf("openai api key required")
	}
	if oc.Model == "" || ec.Model == "" {
		return nil, fmt.Errorf("chat and embedding models are required")
	}

	g := &OpenAI{
		baseURL:        strings.TrimRight(oc.BaseURL, "/"),
		apiKey:         oc.APIKey,
		model:          oc.Model,
		embeddingModel: ec.Model,
		dimensions:     ec.Dimensions,
		httpClient:     opts.HTTPClient,
		retrier:        opts.Retrier,
		logger:         opts.Logger,
		tracer:         opts.Tracer,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: oc.Timeout.Duration()}
	}
	if g.retrier == nil {
		g.retrier = NewRetrier()
	}
	if g.logger == nil {
		g.logger = logging.NewNop()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(instrumentationName)
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	g.metrics = newMetrics(meter)

	limit, burst := rate.Limit(oc.RateLimit), oc.Burst
	if oc.RateLimit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)
	return g, nil
}

// Model is the chat model used for extraction and conflict checks.
func (g *OpenAI) Model() string { return g.model }

// EmbeddingModel is the model used for embeddings.
func (g *OpenAI) EmbeddingModel() string { return g.embeddingModel }

// Extract runs structured extraction over text.
func (g *OpenAI) Extract(ctx context.Context, text string) (Extraction, error) {
	var out Extraction
	err := g.call(ctx, "extract", func(ctx context.Context) error {
		raw, err := g.structured(ctx, "extract", "extraction", extractionSchema, extractionSystemPrompt, ExtractionPrompt(text))
		if err != nil {
			return err
		}
		out, err = ParseExtraction(raw)
		return err
	})
	return out, err
}

// CheckConflict asks the model whether two summaries conflict.
func (g *OpenAI) CheckConflict(ctx context.Context, existingSummary, proposedSummary string) (ConflictCheck, error) {
	var out ConflictCheck
	err := g.call(ctx, "check_conflict", func(ctx context.Context) error {
		raw, err := g.structured(ctx, "check_conflict", "conflict_check", conflictSchema, conflictSystemPrompt,
			ConflictPrompt(existingSummary, proposedSummary))
		if err != nil {
			return err
		}
		out, err = ParseConflictCheck(raw)
		return err
	})
	return out, err
}

// Embed returns the embedding vector for text.
func (g *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.call(ctx, "embed", func(ctx context.Context) error {
		body := embeddingRequest{Model: g.embeddingModel, Input: text}
		var resp embeddingResponse
		if err := g.post(ctx, "embed", "/v1/embeddings", body, &resp); err != nil {
			return err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return schemaMismatch("embedding: empty data")
		}
		vec := resp.Data[0].Embedding
		if g.dimensions > 0 && len(vec) != g.dimensions {
			return schemaMismatch("embedding: got %d dimensions, want %d", len(vec), g.dimensions)
		}
		out = vec
		return nil
	})
	return out, err
}

// call wraps one operation in a span, the retry policy and metrics.
func (g *OpenAI) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attribute.String("gateway.op", op)))
	defer span.End()

	start := time.Now()
	attempt := 0
	err := g.retrier.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			g.metrics.retry(ctx, op)
		}
		attempt++
		err := fn(ctx)
		if err != nil && !isSchemaMismatch(err) && attempt <= g.retrier.Retries {
			g.logger.Warn(ctx, "model gateway attempt failed",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	g.metrics.record(ctx, op, start, err)

	span.SetAttributes(attribute.Int("gateway.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
	return err
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// structured sends a chat completion constrained to schema and returns the
// message content.
func (g *OpenAI) structured(ctx context.Context, op, name string, schema map[string]interface{}, system, user string) ([]byte, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchemaFormat{Name: name, Strict: true, Schema: schema},
		},
	}

	var resp chatResponse
	if err := g.post(ctx, op, "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, schemaMismatch("%s: no choices in response", name)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return nil, schemaMismatch("%s: model refused: %s", name, *msg.Refusal)
	}
	if msg.Content == nil || strings.TrimSpace(*msg.Content) == "" {
		return nil, schemaMismatch("%s: empty content (finish_reason %q)", name, resp.Choices[0].FinishReason)
	}
	return []byte(*msg.Content), nil
}

func (g *OpenAI) post(ctx context.Context, op, path string, body, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	g.logger.Trace(ctx, "model gateway request", zap.String("op", op), zap.String("path", path), zap.ByteString("body", payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey.Value())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	g.logger.Trace(ctx, "model gateway response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", data))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.New(apiErr.Error.Message)}
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(data)))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return schemaMismatch("%s: decode response: %v", op, err)
	}
	return nil
}
