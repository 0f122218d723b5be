package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func TestMarkProcessing(t *testing.T) {
	t.Run("pending task transitions", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE agent_tasks`).
			WithArgs("task-1", string(models.TaskStatusProcessing), sqlmock.AnyArg(), string(models.TaskStatusPending)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewTaskStore(db).MarkProcessing(context.Background(), "task-1")
		require.NoError(t, err)
	})

	t.Run("non-pending task is rejected", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE agent_tasks`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewTaskStore(db).MarkProcessing(context.Background(), "task-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCompleteRequiresProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	// Completing a task that was already failed (e.g. by the reaper)
	// matches zero rows.
	mock.ExpectExec(`UPDATE agent_tasks`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewTaskStore(db).Complete(context.Background(), "task-1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTimeoutStale(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().Add(-5 * time.Minute)

	rows := sqlmock.NewRows([]string{"id", "run_id", "agent_id", "user_id", "status"}).
		AddRow("task-1", "run-1", "CONTENT_SUMMARIZER", "user-1", "failed").
		AddRow("task-2", "run-2", "QUALITY_CHECKER", "user-2", "failed")
	mock.ExpectQuery(`UPDATE agent_tasks`).
		WithArgs(string(models.TaskStatusFailed), "task timed out", sqlmock.AnyArg(),
			string(models.TaskStatusProcessing), cutoff).
		WillReturnRows(rows)

	tasks, err := NewTaskStore(db).TimeoutStale(context.Background(), cutoff, "task timed out")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTerminalBefore(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().AddDate(0, 0, -7)
	mock.ExpectExec(`DELETE FROM agent_tasks`).
		WithArgs(string(models.TaskStatusCompleted), string(models.TaskStatusFailed), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := NewTaskStore(db).DeleteTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
