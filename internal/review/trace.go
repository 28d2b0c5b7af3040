package review

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Step statuses.
const (
	StepComplete = "complete"
	StepPending  = "pending"
)

// Trace is the per-stage progress of a PR.
type Trace struct {
	PRID  int64  `json:"pr_id"`
	Steps []Step `json:"steps"`
}

// Step is one pipeline stage in a Trace.
type Step struct {
	Key     string         `json:"key"`
	Label   string         `json:"label"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

type traceCounts struct {
	extracted    bool
	status       string
	changes      int
	conflicts    int
	stakeholders int
	merged       int
}

// Trace reports which stages have produced output for the PR.
func (s *Service) Trace(ctx context.Context, prID int64) (Trace, error) {
	ctx, span := s.tracer.Start(ctx, "review.Trace", trace.WithAttributes(attribute.Int64("pr.id", prID)))
	defer span.End()

	var tc traceCounts
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		pr, err := tx.GetPR(ctx, prID)
		if err != nil {
			return err
		}
		tc.extracted = hasPayload(pr.Extracted)
		tc.status = pr.Status

		changes, err := tx.ListChanges(ctx, prID)
		if err != nil {
			return fmt.Errorf("list changes: %w", err)
		}
		conflicts, err := tx.ListConflicts(ctx, prID)
		if err != nil {
			return fmt.Errorf("list conflicts: %w", err)
		}
		stakeholders, err := tx.ListStakeholders(ctx, prID)
		if err != nil {
			return fmt.Errorf("list stakeholders: %w", err)
		}
		merged, err := tx.CountMergedVersions(ctx, prID)
		if err != nil {
			return fmt.Errorf("count merged versions: %w", err)
		}
		tc.changes, tc.conflicts, tc.stakeholders, tc.merged = len(changes), len(conflicts), len(stakeholders), merged
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Trace{}, err
	}
	return Trace{PRID: prID, Steps: tc.steps()}, nil
}

func (tc traceCounts) steps() []Step {
	criticDone := tc.conflicts > 0 || tc.status == store.StatusMergeConflict || tc.status == store.StatusNeedsReview
	return []Step{
		newStep("extractor", "Extractor", tc.extracted, map[string]any{"extracted": tc.extracted}),
		newStep("matcher", "Matcher", tc.changes > 0, map[string]any{"changes": tc.changes}),
		newStep("critic", "Critic", criticDone, map[string]any{"conflicts": tc.conflicts, "status": tc.status}),
		newStep("router", "Router", tc.stakeholders > 0, map[string]any{"stakeholders": tc.stakeholders}),
		newStep("merge", "Merge", tc.merged > 0, map[string]any{"merged_versions": tc.merged}),
	}
}

func newStep(key, label string, done bool, details map[string]any) Step {
	status := StepPending
	if done {
		status = StepComplete
	}
	return Step{Key: key, Label: label, Status: status, Details: details}
}
