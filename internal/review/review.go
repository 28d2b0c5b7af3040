package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service reads PR and graph views from the store.
type Service struct {
	store  store.Store
	tracer trace.Tracer
}

// Options configures a Service.
type Options struct {
	Tracer trace.Tracer
}

// New returns a Service.
func New(st store.Store, opts Options) *Service {
	s := &Service{store: st, tracer: opts.Tracer}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/review")
	}
	return s
}

// PRDetail is a knowledge PR with its changes in creation order.
type PRDetail struct {
	ID           int64           `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	SourceTurnID *int64          `json:"source_turn_id"`
	Status       string          `json:"status"`
	Extracted    json.RawMessage `json:"extracted_json"`
	Model        string          `json:"model"`
	Title        string          `json:"title"`
	Changes      []Change        `json:"changes"`
}

// Change is one proposed edit inside a PR.
type Change struct {
	ID                int64   `json:"id"`
	TruthItemID       int64   `json:"truth_item_id"`
	PreviousVersionID *int64  `json:"previous_version_id"`
	ProposedSummary   string  `json:"proposed_summary"`
	DiffSummary       string  `json:"diff_summary"`
	Similarity        float64 `json:"similarity"`
}

// Stakeholders is the ranked stakeholder list of a PR.
type Stakeholders struct {
	PRID         int64         `json:"pr_id"`
	Stakeholders []Stakeholder `json:"stakeholders"`
}

// Stakeholder is one routing recommendation.
type Stakeholder struct {
	PersonID int64   `json:"person_id"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
	Mode     string  `json:"mode"`
}

// PR returns the PR and its changes ordered by id.
func (s *Service) PR(ctx context.Context, prID int64) (PRDetail, error) {
	ctx, span := s.tracer.Start(ctx, "review.PR", trace.WithAttributes(attribute.Int64("pr.id", prID)))
	defer span.End()

	var out PRDetail
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		pr, err := tx.GetPR(ctx, prID)
		if err != nil {
			return err
		}
		changes, err := tx.ListChanges(ctx, prID)
		if err != nil {
			return fmt.Errorf("list changes: %w", err)
		}
		out = PRDetail{
			ID:           pr.ID,
			CreatedAt:    pr.CreatedAt,
			SourceTurnID: pr.SourceTurnID,
			Status:       pr.Status,
			Extracted:    pr.Extracted,
			Model:        pr.Model,
			Title:        pr.Title,
			Changes:      make([]Change, 0, len(changes)),
		}
		if len(out.Extracted) == 0 {
			out.Extracted = json.RawMessage("null")
		}
		for _, c := range changes {
			out.Changes = append(out.Changes, Change{
				ID:                c.ID,
				TruthItemID:       c.TruthItemID,
				PreviousVersionID: c.PreviousVersionID,
				ProposedSummary:   c.ProposedSummary,
				DiffSummary:       c.DiffSummary,
				Similarity:        c.Similarity,
			})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return PRDetail{}, err
	}
	return out, nil
}

// Stakeholders returns the PR's stakeholders by score descending.
func (s *Service) Stakeholders(ctx context.Context, prID int64) (Stakeholders, error) {
	out := Stakeholders{PRID: prID, Stakeholders: []Stakeholder{}}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPR(ctx, prID); err != nil {
			return err
		}
		rows, err := tx.ListStakeholders(ctx, prID)
		if err != nil {
			return fmt.Errorf("list stakeholders: %w", err)
		}
		for _, r := range rows {
			out.Stakeholders = append(out.Stakeholders, Stakeholder{
				PersonID: r.PersonID, Score: r.Score, Reason: r.Reason, Mode: r.Mode,
			})
		}
		return nil
	})
	if err != nil {
		return Stakeholders{}, err
	}
	return out, nil
}

// hasPayload reports whether a stored extraction carries any content.
func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}
