// Package router recommends stakeholders for a knowledge PR from the
// source sender's communication links and the PR's topics.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result is the outcome of one routing run.
type Result struct {
	PRID         int64 `json:"pr_id"`
	Stakeholders int   `json:"stakeholders"`
}

// Router persists stakeholder recommendations.
type Router struct {
	store  store.Store
	logger *logging.Logger
	tracer trace.Tracer
}

// Options configures a Router.
type Options struct {
	Logger *logging.Logger
	Tracer trace.Tracer
}

// New returns a Router.
func New(st store.Store, opts Options) *Router {
	r := &Router{store: st, logger: opts.Logger, tracer: opts.Tracer}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/router")
	}
	return r
}

// Topics reads the topic list from a stored extraction payload. Absent or
// unparsable payloads have no topics; empty entries are dropped.
func Topics(payload json.RawMessage) []string {
	var doc struct {
		Topics []interface{} `json:"topics"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &doc) != nil {
		return nil
	}
	var out []string
	for _, t := range doc.Topics {
		if t == nil {
			continue
		}
		s := fmt.Sprint(t)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Route replaces the PR's stakeholders with a fresh ranking.
func (r *Router) Route(ctx context.Context, prID int64) (Result, error) {
	ctx = logging.WithPRID(ctx, prID)
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(attribute.Int64("pr.id", prID)))
	defer span.End()

	var kept []Candidate
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		pr, err := tx.GetPR(ctx, prID)
		if err != nil {
			return err
		}
		topics := Topics(pr.Extracted)

		var sender *int64
		if pr.SourceTurnID != nil {
			turn, err := tx.GetTurn(ctx, *pr.SourceTurnID)
			switch {
			case err == nil:
				sender = turn.SenderPersonID
			case !isNotFound(err):
				return fmt.Errorf("load source turn: %w", err)
			}
		}

		weights := map[int64]float64{}
		if sender != nil {
			if weights, err = tx.RecipientCounts(ctx, *sender); err != nil {
				return fmt.Errorf("recipient counts: %w", err)
			}
		}
		kept = Score(Normalize(weights), sender, topics)

		if err := tx.DeleteStakeholders(ctx, prID); err != nil {
			return fmt.Errorf("delete stakeholders: %w", err)
		}
		for _, c := range kept {
			if _, err := tx.InsertStakeholder(ctx, store.Stakeholder{
				PRID: prID, PersonID: c.PersonID, Score: c.Score, Reason: c.Reason, Mode: c.Mode,
			}); err != nil {
				return fmt.Errorf("insert stakeholder: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("pr.stakeholders", len(kept)))
	r.logger.Info(ctx, "stakeholders routed", zap.Int("stakeholders", len(kept)))
	return Result{PRID: prID, Stakeholders: len(kept)}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
