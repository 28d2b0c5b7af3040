package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrMergeBlocked is returned when merging a PR that is not awaiting review.
var ErrMergeBlocked = errors.New("pr is not mergeable")

// Service is the only writer of truth items and versions.
type Service struct {
	store   store.Store
	matcher Matcher
	logger  *logging.Logger
	tracer  trace.Tracer
}

// Options configures a Service.
type Options struct {
	Matcher Matcher
	Logger  *logging.Logger
	Tracer  trace.Tracer
}

// NewService returns a Service over st.
func NewService(st store.Store, opts Options) *Service {
	s := &Service{store: st, matcher: opts.Matcher, logger: opts.Logger, tracer: opts.Tracer}
	if s.matcher == nil {
		s.matcher = NewLinearMatcher()
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/fyrsmithlabs/truthd/internal/knowledge")
	}
	return s
}

// FindBestMatch delegates to the configured Matcher within tx.
func (s *Service) FindBestMatch(ctx context.Context, tx store.KnowledgeTx, vec []float32) (Match, bool, error) {
	return s.matcher.FindBestMatch(ctx, tx, vec)
}

// CreateItem creates a truth item together with its embedding.
func (s *Service) CreateItem(ctx context.Context, tx store.KnowledgeTx, itemType, title string, vec []float32) (int64, error) {
	id, err := tx.CreateTruthItem(ctx, itemType, title)
	if err != nil {
		return 0, fmt.Errorf("create truth item: %w", err)
	}
	if err := tx.StoreEmbedding(ctx, id, vec); err != nil {
		return 0, fmt.Errorf("store embedding for item %d: %w", id, err)
	}
	return id, nil
}

// MergeResult reports a merged PR.
type MergeResult struct {
	PRID           int64   `json:"pr_id"`
	MergedVersions int     `json:"merged_versions"`
	Status         string  `json:"status"`
	VersionIDs     []int64 `json:"version_ids"`
}

// MergePR appends one version per change, in change order, and marks the PR
// merged. The item's current version moves to the new version unless the
// current one has a strictly higher confidence.
func (s *Service) MergePR(ctx context.Context, prID int64) (MergeResult, error) {
	ctx = logging.WithPRID(ctx, prID)
	ctx, span := s.tracer.Start(ctx, "knowledge.MergePR", trace.WithAttributes(attribute.Int64("pr.id", prID)))
	defer span.End()

	res := MergeResult{PRID: prID, VersionIDs: []int64{}}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		pr, err := tx.GetPR(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != store.StatusNeedsReview {
			return fmt.Errorf("%w: status is %s", ErrMergeBlocked, pr.Status)
		}
		changes, err := tx.ListChanges(ctx, prID)
		if err != nil {
			return fmt.Errorf("list changes: %w", err)
		}
		for _, c := range changes {
			vid, err := s.appendVersion(ctx, tx, prID, c)
			if err != nil {
				return err
			}
			res.VersionIDs = append(res.VersionIDs, vid)
		}
		if err := tx.SetPRStatus(ctx, prID, store.StatusMerged); err != nil {
			return fmt.Errorf("set pr status: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return MergeResult{}, err
	}

	res.MergedVersions = len(res.VersionIDs)
	res.Status = store.StatusMerged
	s.logger.Info(ctx, "pr merged", zap.Int("versions", res.MergedVersions))
	return res, nil
}

func (s *Service) appendVersion(ctx context.Context, tx store.KnowledgeTx, prID int64, c store.PRChange) (int64, error) {
	num, err := tx.NextVersionNum(ctx, c.TruthItemID)
	if err != nil {
		return 0, fmt.Errorf("next version for item %d: %w", c.TruthItemID, err)
	}
	confidence := c.Confidence
	from := prID
	vid, err := tx.InsertVersion(ctx, store.TruthVersion{
		TruthItemID:    c.TruthItemID,
		VersionNum:     num,
		Summary:        c.ProposedSummary,
		Confidence:     &confidence,
		MergedFromPRID: &from,
	})
	if err != nil {
		return 0, fmt.Errorf("insert version for item %d: %w", c.TruthItemID, err)
	}

	item, err := tx.GetTruthItem(ctx, c.TruthItemID)
	if err != nil {
		return 0, fmt.Errorf("load item %d: %w", c.TruthItemID, err)
	}
	promote := item.CurrentVersionID == nil
	if !promote {
		current, err := tx.GetVersion(ctx, *item.CurrentVersionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			promote = true
		case err != nil:
			return 0, fmt.Errorf("load current version of item %d: %w", c.TruthItemID, err)
		default:
			promote = current.Confidence == nil || confidence >= *current.Confidence
		}
	}
	if promote {
		if err := tx.SetCurrentVersion(ctx, c.TruthItemID, vid); err != nil {
			return 0, fmt.Errorf("set current version of item %d: %w", c.TruthItemID, err)
		}
	}
	return vid, nil
}
