package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func seedMessages(t *testing.T) (*store.Memory, int64, int64, time.Time) {
	t.Helper()
	st := store.NewMemory()
	alice := st.AddPerson(store.Person{Handle: "alice"})
	bob := st.AddPerson(store.Person{Handle: "bob"})
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	st.AddMessage(store.Message{TS: ts.Add(time.Hour), SenderPersonID: &alice, RecipientIDs: []int64{bob}, Text: "second", Platform: "slack", ChannelID: "C1"})
	st.AddMessage(store.Message{TS: ts, SenderPersonID: &alice, RecipientIDs: []int64{bob}, Text: "first", Platform: "slack", ChannelID: "C1"})
	st.AddMessage(store.Message{TS: ts.Add(2 * time.Hour), SenderPersonID: &bob, RecipientIDs: []int64{alice}, Text: "reply"})
	return st, alice, bob, ts
}

func TestRebuildTurns(t *testing.T) {
	st, alice, _, ts := seedMessages(t)
	st.AddTurn(store.Turn{Text: "stale"})
	tl := logging.NewTestLogger()

	n, err := New(st, tl.Logger).RebuildTurns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	tl.AssertLogged(t, zapcore.InfoLevel, "turns rebuilt")

	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetTurn(context.Background(), 1)
		assert.ErrorIs(t, err, store.ErrNotFound, "previous turns are cleared")

		first, err := tx.GetTurn(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, "first", first.Text)
		assert.Equal(t, ts, first.StartTS)
		assert.Equal(t, ts, first.EndTS)
		assert.Equal(t, &alice, first.SenderPersonID)
		assert.Equal(t, "C1", first.ChannelID)

		last, err := tx.GetTurn(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, "reply", last.Text)
		return nil
	}))
}

func TestRebuildCommEdges(t *testing.T) {
	st, alice, bob, ts := seedMessages(t)
	r := New(st, nil)

	n, err := r.RebuildCommEdges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Running again replaces rather than accumulates.
	_, err = r.RebuildCommEdges(context.Background())
	require.NoError(t, err)

	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		edges, err := tx.ListCommEdges(context.Background())
		require.NoError(t, err)
		require.Len(t, edges, 2)
		byPair := map[[2]int64]store.CommEdge{}
		for _, e := range edges {
			byPair[[2]int64{e.SrcPersonID, e.DstPersonID}] = e
		}
		ab := byPair[[2]int64{alice, bob}]
		assert.Equal(t, 2.0, ab.Weight)
		assert.Equal(t, ts.Add(time.Hour), ab.LastTS)
		assert.Equal(t, 1.0, byPair[[2]int64{bob, alice}].Weight)
		return nil
	}))
}
