package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestClaimNextPending(t *testing.T) {
	t.Run("empty queue returns nil without error", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		run, err := NewRunStore(db).ClaimNextPending(context.Background(), "worker-1")
		require.NoError(t, err)
		assert.Nil(t, run)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claims oldest pending run", func(t *testing.T) {
		db, mock := newMockDB(t)
		rows := sqlmock.NewRows([]string{
			"id", "paper_id", "user_id", "status", "progress_percent",
			"configuration", "context", "stage_errors", "credits_reserved",
		}).AddRow("run-1", "paper-1", "user-1", "PENDING", 0,
			[]byte(`{"credit_cost":30}`), []byte(`{}`), []byte(`[]`), 30)

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(rows)
		mock.ExpectExec(`UPDATE pipeline_runs`).
			WithArgs("run-1", string(models.RunStatusInitializing), "worker-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		run, err := NewRunStore(db).ClaimNextPending(context.Background(), "worker-1")
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, models.RunStatusInitializing, run.Status)
		assert.Equal(t, "worker-1", *run.WorkerID)
		require.NotNil(t, run.Config)
		assert.Equal(t, 30, run.Config.CreditCost)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	db, mock := newMockDB(t)
	// The guard lives in SQL: GREATEST keeps an out-of-order update from
	// lowering the stored value.
	mock.ExpectExec(`GREATEST\(progress_percent, \$2\)`).
		WithArgs("run-1", 45, "CONTENT_SUMMARIZER").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewRunStore(db).UpdateProgress(context.Background(), "run-1", 45, "CONTENT_SUMMARIZER")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Run("rejects non-terminal status", func(t *testing.T) {
		db, _ := newMockDB(t)
		err := NewRunStore(db).Complete(context.Background(), "run-1", models.RunStatusRunning, nil)
		assert.Error(t, err)
	})

	t.Run("double completion is an invalid transition", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE pipeline_runs`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewRunStore(db).Complete(context.Background(), "run-1", models.RunStatusCompleted, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRequestCancelTerminalRun(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE pipeline_runs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewRunStore(db).RequestCancel(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHeartbeatGuardedByWorker(t *testing.T) {
	db, mock := newMockDB(t)
	// A stale worker heartbeating a reassigned run matches zero rows.
	mock.ExpectExec(`UPDATE pipeline_runs SET last_heartbeat_at`).
		WithArgs("run-1", "old-worker", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewRunStore(db).Heartbeat(context.Background(), "run-1", "old-worker")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
