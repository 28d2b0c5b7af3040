// Package prbuilder turns a turn into a knowledge PR: one change per
// extracted decision or claim, each matched against the knowledge base or
// recorded as a new truth item.
package prbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/truthd/internal/extraction"
	"github.com/fyrsmithlabs/truthd/internal/knowledge"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Diff descriptions recorded on changes.
const (
	DiffUpdate = "Proposed update to existing truth item"
	DiffNew    = "New truth item"
)

// maxTitleRunes bounds a claim-derived item title.
const maxTitleRunes = 120

// Extractor produces the extraction for a turn.
type Extractor interface {
	ExtractTurn(ctx context.Context, text string, turnID *int64) (extraction.Extraction, bool, error)
	Model() string
}

// Embedder returns the matching vector for a summary.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Knowledge matches and creates truth items inside a unit of work.
type Knowledge interface {
	FindBestMatch(ctx context.Context, tx store.KnowledgeTx, vec []float32) (knowledge.Match, bool, error)
	CreateItem(ctx context.Context, tx store.KnowledgeTx, itemType, title string, vec []float32) (int64, error)
}

// Result summarizes a built PR.
type Result struct {
	PRID      int64 `json:"pr_id"`
	Changes   int   `json:"changes"`
	Truncated bool  `json:"-"`
}

// Builder builds knowledge PRs.
type Builder struct {
	store     store.Store
	extractor Extractor
	embedder  Embedder
	knowledge Knowledge
	logger    *logging.Logger
	tracer    trace.Tracer
}

// Options configures a Builder.
type Options struct {
	Logger *logging.Logger
	Tracer trace.Tracer
}

// New returns a Builder.
func New(st store.Store, ex Extractor, emb Embedder, kn Knowledge, opts Options) *Builder {
	b := &Builder{store: st, extractor: ex, embedder: emb, knowledge: kn, logger: opts.Logger, tracer: opts.Tracer}
	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/prbuilder")
	}
	return b
}

type item struct {
	itemType   string
	title      string
	summary    string
	confidence float64
	vec        []float32
}

// flatten turns an extraction into proposable items: decisions first, then
// claims, each in extraction order. Items with nothing to embed are dropped.
func flatten(e extraction.Extraction) []item {
	items := make([]item, 0, len(e.Decisions)+len(e.Claims))
	for _, d := range e.Decisions {
		summary := d.Details
		if strings.TrimSpace(summary) == "" {
			summary = d.Title
		}
		if strings.TrimSpace(summary) == "" {
			continue
		}
		items = append(items, item{itemType: store.ItemDecision, title: d.Title, summary: summary, confidence: 1.0})
	}
	for _, c := range e.Claims {
		if strings.TrimSpace(c.Statement) == "" {
			continue
		}
		items = append(items, item{itemType: store.ItemClaim, title: truncateRunes(c.Statement, maxTitleRunes), summary: c.Statement, confidence: c.Confidence})
	}
	return items
}

// Build creates a PR from turnID. The model calls happen before the unit
// of work opens; the PR, its changes and any new items commit together.
func (b *Builder) Build(ctx context.Context, turnID int64) (Result, error) {
	ctx = logging.WithTurnID(ctx, turnID)
	ctx, span := b.tracer.Start(ctx, "prbuilder.Build", trace.WithAttributes(attribute.Int64("turn.id", turnID)))
	defer span.End()

	res, err := b.build(ctx, turnID)
	buildsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int64("pr.id", res.PRID), attribute.Int("pr.changes", res.Changes))
	b.logger.Info(logging.WithPRID(ctx, res.PRID), "pr built",
		zap.Int("changes", res.Changes), zap.Bool("truncated", res.Truncated))
	return res, nil
}

func (b *Builder) build(ctx context.Context, turnID int64) (Result, error) {
	var turn store.Turn
	if err := b.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		turn, err = tx.GetTurn(ctx, turnID)
		return err
	}); err != nil {
		return Result{}, err
	}

	ext, truncated, err := b.extractor.ExtractTurn(ctx, turn.Text, &turnID)
	if err != nil {
		return Result{}, fmt.Errorf("extract turn %d: %w", turnID, err)
	}
	payload, err := json.Marshal(ext)
	if err != nil {
		return Result{}, fmt.Errorf("encode extraction: %w", err)
	}

	items := flatten(ext)
	for i := range items {
		vec, err := b.embedder.Embed(ctx, items[i].summary)
		if err != nil {
			return Result{}, fmt.Errorf("embed item %d: %w", i, err)
		}
		items[i].vec = vec
	}

	res := Result{Truncated: truncated}
	err = b.store.WithTx(ctx, func(tx store.Tx) error {
		source := turnID
		prID, err := tx.CreatePR(ctx, store.KnowledgePR{
			SourceTurnID: &source,
			Status:       store.StatusNeedsReview,
			Extracted:    payload,
			Model:        b.extractor.Model(),
			Title:        fmt.Sprintf("Turn %d updates", turnID),
		})
		if err != nil {
			return fmt.Errorf("create pr: %w", err)
		}
		res.PRID = prID

		for _, it := range items {
			change, err := b.propose(ctx, tx, it)
			if err != nil {
				return err
			}
			change.PRID = prID
			if _, err := tx.InsertChange(ctx, change); err != nil {
				return fmt.Errorf("insert change: %w", err)
			}
			res.Changes++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (b *Builder) propose(ctx context.Context, tx store.Tx, it item) (store.PRChange, error) {
	change := store.PRChange{ProposedSummary: it.summary, Confidence: it.confidence}

	match, ok, err := b.knowledge.FindBestMatch(ctx, tx, it.vec)
	if err != nil {
		return store.PRChange{}, err
	}
	if ok {
		change.TruthItemID = match.TruthItemID
		change.PreviousVersionID = match.CurrentVersionID
		change.Similarity = match.Similarity
		change.DiffSummary = DiffUpdate
		return change, nil
	}

	id, err := b.knowledge.CreateItem(ctx, tx, it.itemType, it.title, it.vec)
	if err != nil {
		return store.PRChange{}, err
	}
	change.TruthItemID = id
	change.DiffSummary = DiffNew
	return change, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
