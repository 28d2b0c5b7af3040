package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_WithTx_CommitsOnSuccess(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO truth_items (type, title) VALUES ($1, $2) RETURNING id`)).
		WithArgs(ItemDecision, "Delay launch").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO truth_item_embeddings (truth_item_id, embedding) VALUES ($1, $2)`)).
		WithArgs(int64(7), []byte("[1,0.5]")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		id, err := tx.CreateTruthItem(context.Background(), ItemDecision, "Delay launch")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(7), id)
		return tx.StoreEmbedding(context.Background(), id, []float32{1, 0.5})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithTx_RollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO knowledge_prs`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		if _, err := tx.CreatePR(context.Background(), KnowledgePR{Status: StatusNeedsReview}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithTx_RollsBackOnPanic(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = st.WithTx(context.Background(), func(Tx) error { panic("bad") })
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTurn(t *testing.T) {
	st, mock := newMockStore(t)
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM turns WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "platform", "channel_id", "thread_id", "sender_person_id", "start_ts", "end_ts", "text"}).
			AddRow(3, "slack", "C1", nil, 11, ts, ts, "hello"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM turns WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		turn, err := tx.GetTurn(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, "slack", turn.Platform)
		assert.Equal(t, "C1", turn.ChannelID)
		assert.Empty(t, turn.ThreadID)
		require.NotNil(t, turn.SenderPersonID)
		assert.Equal(t, int64(11), *turn.SenderPersonID)

		_, err = tx.GetTurn(context.Background(), 4)
		return err
	})
	assert.ErrorIs(t, err, ErrTurnNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListEmbeddings_SkipsCorruptRows(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`JOIN truth_item_embeddings tie ON tie.truth_item_id = ti.id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version_id", "embedding"}).
			AddRow(1, nil, []byte("[1,0]")).
			AddRow(2, 5, []byte("not json")).
			AddRow(3, 9, []byte("[0,1]")))
	mock.ExpectCommit()

	var got []ItemEmbedding
	err := st.WithTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.ListEmbeddings(context.Background())
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].TruthItemID)
	assert.Nil(t, got[0].CurrentVersionID)
	assert.Equal(t, []float32{1, 0}, got[0].Vector)
	assert.Equal(t, int64(3), got[1].TruthItemID)
	assert.Equal(t, int64(9), *got[1].CurrentVersionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetPR_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM knowledge_prs WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetPR(context.Background(), 99)
		return err
	})
	assert.ErrorIs(t, err, ErrPRNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NextVersionNum(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(version_num), 0) + 1 FROM truth_versions WHERE truth_item_id = $1`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		n, err := tx.NextVersionNum(context.Background(), 2)
		assert.Equal(t, 3, n)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecipientCounts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY mr.recipient_person_id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"recipient_person_id", "count"}).AddRow(2, 10).AddRow(3, 5))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		counts, err := tx.RecipientCounts(context.Background(), 1)
		assert.Equal(t, map[int64]float64{2: 10, 3: 5}, counts)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetPRStatus_Missing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE knowledge_prs SET status = $1 WHERE id = $2`)).
		WithArgs(StatusMerged, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		return tx.SetPRStatus(context.Background(), 5, StatusMerged)
	})
	assert.ErrorIs(t, err, ErrPRNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceCommEdges(t *testing.T) {
	st, mock := newMockStore(t)
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM comm_edges`)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO comm_edges`)).
		WithArgs(int64(1), int64(2), 4.0, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		return tx.ReplaceCommEdges(context.Background(), []CommEdge{{SrcPersonID: 1, DstPersonID: 2, Weight: 4, LastTS: ts}})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
