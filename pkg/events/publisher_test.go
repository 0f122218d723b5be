package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(TaskStatusPayload{
			Type:   EventTypeTaskStatus,
			TaskID: "task-1",
			RunID:  "run-1",
			Status: models.TaskStatusCompleted,
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypeTaskStatus)
		assert.Contains(t, result, "run-1")
		assert.NotContains(t, result, "truncated")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		payload, _ := json.Marshal(TaskStatusPayload{
			Type:   EventTypeTaskStatus,
			TaskID: "task-9",
			RunID:  "run-9",
			Error:  strings.Repeat("a", 8000),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, `"truncated":true`)
		assert.Less(t, len(result), 8000)
	})

	t.Run("truncated payload preserves routing fields", func(t *testing.T) {
		payload, _ := json.Marshal(TaskStatusPayload{
			Type:   EventTypeTaskStatus,
			TaskID: "task-456",
			RunID:  "run-789",
			Error:  strings.Repeat("x", 8000),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypeTaskStatus)
		assert.Contains(t, result, "task-456")
		assert.Contains(t, result, "run-789")
		assert.NotContains(t, result, "xxxx")
	})

	t.Run("empty JSON object", func(t *testing.T) {
		result, err := truncateIfNeeded("{}")
		require.NoError(t, err)
		assert.Equal(t, "{}", result)
	})
}

func TestInjectDBEventIDAndTruncate(t *testing.T) {
	t.Run("injects db_event_id into normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(RunStatusPayload{
			Type:   EventTypeRunStatus,
			RunID:  "run-1",
			Status: models.RunStatusRunning,
		})

		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(result), &m))
		assert.Equal(t, float64(42), m["db_event_id"])
		assert.Equal(t, "run-1", m["run_id"])
	})

	t.Run("keeps db_event_id through truncation", func(t *testing.T) {
		payload, _ := json.Marshal(RunStatusPayload{
			Type:  EventTypeRunStatus,
			RunID: "run-2",
			Error: strings.Repeat("z", 8000),
		})

		result, err := injectDBEventIDAndTruncate(payload, 7)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(result), &m))
		assert.Equal(t, true, m["truncated"])
		assert.Equal(t, float64(7), m["db_event_id"])
	})

	t.Run("rejects non-JSON payload", func(t *testing.T) {
		_, err := injectDBEventIDAndTruncate([]byte("not json"), 1)
		assert.Error(t, err)
	})
}

func TestPublishTaskStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs("run:run-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs("run:run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := NewPublisher(db)
	err = p.PublishTaskStatus(context.Background(), TaskStatusPayload{
		TaskID:  "task-1",
		RunID:   "run-1",
		AgentID: models.AgentContentSummarizer,
		Status:  models.TaskStatusProcessing,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRunProgressTransient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// No BEGIN/INSERT: progress events are NOTIFY-only.
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs(GlobalRunsChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewPublisher(db)
	err = p.PublishRunProgress(context.Background(), RunProgressPayload{
		RunID:    "run-3",
		Progress: 45,
		Stage:    string(models.AgentContentSummarizer),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRunStatusBestEffort(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Persistent publish fails at BEGIN; the transient global copy must
	// still be attempted.
	mock.ExpectBegin().WillReturnError(assert.AnError)
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs(GlobalRunsChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewPublisher(db)
	err = p.PublishRunStatus(context.Background(), RunStatusPayload{
		RunID:  "run-4",
		Status: models.RunStatusFailed,
	})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
