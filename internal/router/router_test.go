package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func seedRouting(t *testing.T, extracted string) (*store.Memory, int64, int64) {
	t.Helper()
	st := store.NewMemory()
	alice := st.AddPerson(store.Person{Handle: "alice"})
	bob := st.AddPerson(store.Person{Handle: "bob"})
	carol := st.AddPerson(store.Person{Handle: "carol"})
	for i := 0; i < 10; i++ {
		st.AddMessage(store.Message{SenderPersonID: &alice, RecipientIDs: []int64{bob}})
	}
	for i := 0; i < 5; i++ {
		st.AddMessage(store.Message{SenderPersonID: &alice, RecipientIDs: []int64{carol}})
	}
	turnID := st.AddTurn(store.Turn{SenderPersonID: &alice, Text: "hello"})

	var prID int64
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		prID, err = tx.CreatePR(context.Background(), store.KnowledgePR{SourceTurnID: &turnID, Status: store.StatusNeedsReview, Extracted: json.RawMessage(extracted)})
		return err
	}))
	return st, prID, alice
}

func stakeholders(t *testing.T, st store.Store, prID int64) []store.Stakeholder {
	t.Helper()
	var out []store.Stakeholder
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListStakeholders(context.Background(), prID)
		return err
	}))
	return out
}

func TestRoute_PersistsRanking(t *testing.T) {
	st, prID, alice := seedRouting(t, `{"topics":["launch",""]}`)
	tl := logging.NewTestLogger()

	res, err := New(st, Options{Logger: tl.Logger}).Route(context.Background(), prID)
	require.NoError(t, err)
	assert.Equal(t, Result{PRID: prID, Stakeholders: 3}, res)

	got := stakeholders(t, st, prID)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.6, got[0].Score, 1e-9)
	assert.Equal(t, alice, got[1].PersonID)
	assert.Equal(t, "Topic match: launch", got[1].Reason)
	assert.InDelta(t, 0.3, got[2].Score, 1e-9)
	tl.AssertLogged(t, zapcore.InfoLevel, "stakeholders routed")
}

func TestRoute_IsIdempotent(t *testing.T) {
	st, prID, _ := seedRouting(t, `{"topics":["launch"]}`)
	r := New(st, Options{})

	_, err := r.Route(context.Background(), prID)
	require.NoError(t, err)
	first := stakeholders(t, st, prID)
	_, err = r.Route(context.Background(), prID)
	require.NoError(t, err)
	second := stakeholders(t, st, prID)

	require.Len(t, second, len(first))
	for i := range first {
		first[i].ID, second[i].ID = 0, 0
	}
	assert.Equal(t, first, second)
}

func TestRoute_UnparsablePayloadHasNoTopics(t *testing.T) {
	st, prID, alice := seedRouting(t, `not json`)
	_, err := New(st, Options{}).Route(context.Background(), prID)
	require.NoError(t, err)

	for _, s := range stakeholders(t, st, prID) {
		if s.PersonID == alice {
			assert.Equal(t, 0.0, s.Score)
			assert.Equal(t, "No strong signals", s.Reason)
		}
	}
}

func TestRoute_PRNotFound(t *testing.T) {
	_, err := New(store.NewMemory(), Options{}).Route(context.Background(), 3)
	assert.ErrorIs(t, err, store.ErrPRNotFound)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Topics(json.RawMessage(`{"topics":["a","",null,"b"]}`)))
	assert.Nil(t, Topics(nil))
	assert.Nil(t, Topics(json.RawMessage(`{"topics":"oops"}`)))
	assert.Nil(t, Topics(json.RawMessage(`{}`)))
}
