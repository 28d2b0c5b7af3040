package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fyrsmithlabs/truthd/internal/cache"
	"github.com/fyrsmithlabs/truthd/internal/gateway"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxInputRunes is the hard cap on text sent for extraction.
const MaxInputRunes = 12000

// ErrEmptyInput is returned when the trimmed turn text is empty.
var ErrEmptyInput = errors.New("turn text is empty")

type (
	Extraction = gateway.Extraction
	Decision   = gateway.Decision
	ActionItem = gateway.ActionItem
	Claim      = gateway.Claim
)

// Client is the part of the model gateway the Extractor needs.
type Client interface {
	Extract(ctx context.Context, text string) (gateway.Extraction, error)
}

// Options configures an Extractor.
type Options struct {
	// Model names the extraction model; it scopes cache entries.
	Model string
	// Scrubber redacts credentials before text leaves the process. Nil
	// sends text unchanged.
	Scrubber *secrets.Scrubber
	Logger   *logging.Logger
	Tracer   trace.Tracer
}

// Extractor runs cached structured extraction.
type Extractor struct {
	client   Client
	cache    cache.ExtractionCache
	model    string
	scrubber *secrets.Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer
}

// New returns an Extractor. A nil cache disables caching.
func New(client Client, c cache.ExtractionCache, opts Options) *Extractor {
	e := &Extractor{
		client:   client,
		cache:    c,
		model:    opts.Model,
		scrubber: opts.Scrubber,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
	if e.cache == nil {
		e.cache = cache.NopExtraction{}
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/extraction")
	}
	return e
}

// Model returns the model name used for cache scoping.
func (e *Extractor) Model() string { return e.model }

// ExtractTurn extracts text. truncated reports whether the input cap
// applied. turnID enables the per-turn cache.
func (e *Extractor) ExtractTurn(ctx context.Context, text string, turnID *int64) (result Extraction, truncated bool, err error) {
	ctx, span := e.tracer.Start(ctx, "extraction.ExtractTurn")
	defer span.End()

	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return Extraction{}, false, ErrEmptyInput
	}
	cleaned, truncated = truncate(cleaned, MaxInputRunes)
	span.SetAttributes(attribute.Bool("extraction.truncated", truncated))

	var hash string
	if turnID != nil {
		ctx = logging.WithTurnID(ctx, *turnID)
		hash = cache.TextHash(text)
		if payload, ok := e.cache.Get(ctx, e.model, *turnID, hash); ok {
			if cached, perr := gateway.ParseExtraction(payload); perr == nil {
				span.SetAttributes(attribute.Bool("extraction.cache_hit", true))
				return cached, truncated, nil
			}
		}
	}
	span.SetAttributes(attribute.Bool("extraction.cache_hit", false))

	if e.scrubber != nil {
		scrubbed := e.scrubber.Scrub(cleaned)
		if scrubbed.Findings > 0 {
			e.logger.Info(ctx, "redacted secrets from turn text", zap.Int("findings", scrubbed.Findings))
		}
		cleaned = scrubbed.Text
	}

	result, err = e.client.Extract(ctx, cleaned)
	if err != nil {
		span.RecordError(err)
		return Extraction{}, truncated, err
	}
	result = Normalize(result)

	if turnID != nil {
		e.store(ctx, *turnID, hash, result)
	}
	return result, truncated, nil
}

func (e *Extractor) store(ctx context.Context, turnID int64, hash string, result Extraction) {
	payload, err := json.Marshal(result)
	if err == nil {
		err = e.cache.Put(ctx, e.model, turnID, hash, payload)
	}
	if err != nil {
		e.logger.Warn(ctx, "extraction cache write failed", zap.Error(err))
	}
}

// Normalize replaces nil lists with empty ones so the JSON form always
// carries every member.
func Normalize(e Extraction) Extraction {
	if e.Participants == nil {
		e.Participants = []string{}
	}
	if e.Topics == nil {
		e.Topics = []string{}
	}
	if e.Decisions == nil {
		e.Decisions = []Decision{}
	}
	if e.ActionItems == nil {
		e.ActionItems = []ActionItem{}
	}
	if e.Claims == nil {
		e.Claims = []Claim{}
	}
	return e
}

func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
