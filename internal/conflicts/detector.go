// Package conflicts checks a knowledge PR's changes against the versions
// they update and sets the PR's review status from the outcome.
package conflicts

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/gateway"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var conflictsFound = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "truthd",
	Subsystem: "pipeline",
	Name:      "conflicts_found_total",
	Help:      "Conflicts recorded across conflict runs",
})

// Checker compares an existing and a proposed summary.
type Checker interface {
	CheckConflict(ctx context.Context, existingSummary, proposedSummary string) (gateway.ConflictCheck, error)
}

// Result is the outcome of one run.
type Result struct {
	PRID      int64  `json:"pr_id"`
	Conflicts int    `json:"conflicts"`
	Status    string `json:"status"`
}

// Detector runs conflict checks for PRs.
type Detector struct {
	store   store.Store
	checker Checker
	logger  *logging.Logger
	tracer  trace.Tracer
}

// Options configures a Detector.
type Options struct {
	Logger *logging.Logger
	Tracer trace.Tracer
}

// New returns a Detector.
func New(st store.Store, checker Checker, opts Options) *Detector {
	d := &Detector{store: st, checker: checker, logger: opts.Logger, tracer: opts.Tracer}
	if d.logger == nil {
		d.logger = logging.NewNop()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/conflicts")
	}
	return d
}

type pending struct {
	change   store.PRChange
	existing string
}

// Run replaces the PR's conflicts with a fresh evaluation and sets its
// status to merge_conflict when any were found, else needs_review.
func (d *Detector) Run(ctx context.Context, prID int64) (Result, error) {
	ctx = logging.WithPRID(ctx, prID)
	ctx, span := d.tracer.Start(ctx, "conflicts.Run", trace.WithAttributes(attribute.Int64("pr.id", prID)))
	defer span.End()

	res, err := d.run(ctx, prID)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("pr.conflicts", res.Conflicts), attribute.String("pr.status", res.Status))
	conflictsFound.Add(float64(res.Conflicts))
	d.logger.Info(ctx, "conflicts evaluated", zap.Int("conflicts", res.Conflicts), zap.String("status", res.Status))
	return res, nil
}

func (d *Detector) run(ctx context.Context, prID int64) (Result, error) {
	var work []pending
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPR(ctx, prID); err != nil {
			return err
		}
		changes, err := tx.ListChanges(ctx, prID)
		if err != nil {
			return fmt.Errorf("list changes: %w", err)
		}
		for _, c := range changes {
			if c.PreviousVersionID == nil {
				continue
			}
			v, err := tx.GetVersion(ctx, *c.PreviousVersionID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load version %d: %w", *c.PreviousVersionID, err)
			}
			work = append(work, pending{change: c, existing: v.Summary})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var found []store.PRConflict
	for _, p := range work {
		check, err := d.checker.CheckConflict(ctx, p.existing, p.change.ProposedSummary)
		if err != nil {
			return Result{}, fmt.Errorf("check change %d: %w", p.change.ID, err)
		}
		if !check.Conflict {
			continue
		}
		found = append(found, store.PRConflict{
			PRID:           prID,
			TruthItemID:    p.change.TruthItemID,
			ConflictType:   check.ConflictType,
			ExistingClaim:  deref(check.ExistingSpan),
			NewClaim:       deref(check.NewSpan),
			ResolutionHint: deref(check.ResolutionHint),
		})
	}

	res := Result{PRID: prID, Conflicts: len(found), Status: store.StatusNeedsReview}
	if len(found) > 0 {
		res.Status = store.StatusMergeConflict
	}

	err = d.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPR(ctx, prID); err != nil {
			return err
		}
		if err := tx.DeleteConflicts(ctx, prID); err != nil {
			return fmt.Errorf("delete conflicts: %w", err)
		}
		for _, c := range found {
			if _, err := tx.InsertConflict(ctx, c); err != nil {
				return fmt.Errorf("insert conflict: %w", err)
			}
		}
		return tx.SetPRStatus(ctx, prID, res.Status)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
