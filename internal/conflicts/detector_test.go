package conflicts

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/truthd/internal/gateway"
	"github.com/fyrsmithlabs/truthd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func strPtr(s string) *string { return &s }

// seedConflictPR builds a PR with one change against an existing version
// and one change for a new item.
func seedConflictPR(t *testing.T, st *store.Memory) (prID, existingItem int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		existingItem, err = tx.CreateTruthItem(ctx, store.ItemDecision, "Launch date")
		require.NoError(t, err)
		conf := 1.0
		vid, err := tx.InsertVersion(ctx, store.TruthVersion{TruthItemID: existingItem, VersionNum: 1, Summary: "Launch is in March", Confidence: &conf})
		require.NoError(t, err)
		require.NoError(t, tx.SetCurrentVersion(ctx, existingItem, vid))

		newItem, err := tx.CreateTruthItem(ctx, store.ItemClaim, "Budget")
		require.NoError(t, err)

		prID, err = tx.CreatePR(ctx, store.KnowledgePR{Status: store.StatusNeedsReview, Extracted: []byte(`{}`)})
		require.NoError(t, err)
		_, err = tx.InsertChange(ctx, store.PRChange{PRID: prID, TruthItemID: existingItem, PreviousVersionID: &vid, ProposedSummary: "Launch is in April"})
		require.NoError(t, err)
		_, err = tx.InsertChange(ctx, store.PRChange{PRID: prID, TruthItemID: newItem, ProposedSummary: "Budget is 10k"})
		require.NoError(t, err)
		return nil
	}))
	return prID, existingItem
}

func contradicting() *gatewaytest.Fake {
	fake := gatewaytest.NewFake()
	fake.ConflictFunc = func(_ context.Context, existing, proposed string) (gateway.ConflictCheck, error) {
		return gateway.ConflictCheck{
			Conflict:       existing != proposed,
			ConflictType:   "direct_contradiction",
			ExistingSpan:   strPtr("March"),
			NewSpan:        strPtr("April"),
			ResolutionHint: nil,
		}, nil
	}
	return fake
}

func listConflicts(t *testing.T, st store.Store, prID int64) ([]store.PRConflict, store.KnowledgePR) {
	t.Helper()
	var (
		out []store.PRConflict
		pr  store.KnowledgePR
	)
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		if out, err = tx.ListConflicts(context.Background(), prID); err != nil {
			return err
		}
		pr, err = tx.GetPR(context.Background(), prID)
		return err
	}))
	return out, pr
}

func TestRun_RecordsConflictForPriorVersionOnly(t *testing.T) {
	st := store.NewMemory()
	prID, itemID := seedConflictPR(t, st)
	fake := contradicting()
	tl := logging.NewTestLogger()
	d := New(st, fake, Options{Logger: tl.Logger})

	res, err := d.Run(context.Background(), prID)
	require.NoError(t, err)
	assert.Equal(t, Result{PRID: prID, Conflicts: 1, Status: store.StatusMergeConflict}, res)
	assert.Equal(t, 1, fake.Calls("check_conflict"), "new items are never checked")

	conflicts, pr := listConflicts(t, st, prID)
	require.Len(t, conflicts, 1)
	assert.Equal(t, itemID, conflicts[0].TruthItemID)
	assert.Equal(t, "direct_contradiction", conflicts[0].ConflictType)
	assert.Equal(t, "March", conflicts[0].ExistingClaim)
	assert.Equal(t, "April", conflicts[0].NewClaim)
	assert.Empty(t, conflicts[0].ResolutionHint)
	assert.Equal(t, store.StatusMergeConflict, pr.Status)

	tl.AssertLogged(t, zapcore.InfoLevel, "conflicts evaluated")
	tl.AssertField(t, "conflicts evaluated", "pr.id", prID)
}

func TestRun_IsIdempotent(t *testing.T) {
	st := store.NewMemory()
	prID, _ := seedConflictPR(t, st)
	d := New(st, contradicting(), Options{})

	_, err := d.Run(context.Background(), prID)
	require.NoError(t, err)
	first, _ := listConflicts(t, st, prID)

	_, err = d.Run(context.Background(), prID)
	require.NoError(t, err)
	second, _ := listConflicts(t, st, prID)

	require.Len(t, second, 1, "prior conflicts are replaced, not accumulated")
	first[0].ID, second[0].ID = 0, 0
	assert.Equal(t, first, second)
}

func TestRun_NoConflictResetsStatus(t *testing.T) {
	st := store.NewMemory()
	prID, _ := seedConflictPR(t, st)

	_, err := New(st, contradicting(), Options{}).Run(context.Background(), prID)
	require.NoError(t, err)

	res, err := New(st, gatewaytest.NewFake(), Options{}).Run(context.Background(), prID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Conflicts)
	assert.Equal(t, store.StatusNeedsReview, res.Status)

	conflicts, pr := listConflicts(t, st, prID)
	assert.Empty(t, conflicts)
	assert.Equal(t, store.StatusNeedsReview, pr.Status)
}

func TestRun_PRNotFound(t *testing.T) {
	_, err := New(store.NewMemory(), gatewaytest.NewFake(), Options{}).Run(context.Background(), 7)
	assert.ErrorIs(t, err, store.ErrPRNotFound)
}

func TestRun_GatewayFailureKeepsPriorResults(t *testing.T) {
	st := store.NewMemory()
	prID, _ := seedConflictPR(t, st)
	_, err := New(st, contradicting(), Options{}).Run(context.Background(), prID)
	require.NoError(t, err)

	failing := gatewaytest.NewFake()
	failing.ConflictFunc = func(context.Context, string, string) (gateway.ConflictCheck, error) {
		return gateway.ConflictCheck{}, gatewaytest.ErrFakeUnavailable
	}
	_, err = New(st, failing, Options{}).Run(context.Background(), prID)
	assert.ErrorIs(t, err, gatewaytest.ErrFakeUnavailable)

	conflicts, pr := listConflicts(t, st, prID)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, store.StatusMergeConflict, pr.Status)
}
