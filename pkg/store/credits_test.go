package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func balanceRows(balance int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "balance", "used_this_period", "next_reset_at",
		"total_earned", "total_used", "updated_at",
	}).AddRow("user-1", balance, 0, time.Now().AddDate(0, 1, 0), balance, 0, time.Now())
}

func TestDeduct(t *testing.T) {
	t.Run("sufficient balance", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("user-1").WillReturnRows(balanceRows(100))
		mock.ExpectExec(`UPDATE credit_balances`).
			WithArgs("user-1", 70, 30, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO credit_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
		mock.ExpectCommit()

		entry, err := NewCreditStore(db).Deduct(context.Background(), "user-1", 30, models.OperationFullPipeline, "run-1")
		require.NoError(t, err)
		assert.Equal(t, 70, entry.BalanceAfter)
		assert.Equal(t, models.TransactionDeduct, entry.Kind)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves state untouched", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("user-1").WillReturnRows(balanceRows(10))
		mock.ExpectRollback()

		_, err := NewCreditStore(db).Deduct(context.Background(), "user-1", 30, models.OperationFullPipeline, "run-1")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectRollback()

		_, err := NewCreditStore(db).Deduct(context.Background(), "ghost", 30, models.OperationFullPipeline, "run-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		db, _ := newMockDB(t)
		_, err := NewCreditStore(db).Deduct(context.Background(), "user-1", 0, models.OperationFullPipeline, "run-1")
		assert.Error(t, err)
	})
}

func TestRefund(t *testing.T) {
	t.Run("returns credits once", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("user-1").WillReturnRows(balanceRows(70))
		mock.ExpectExec(`UPDATE credit_balances`).
			WithArgs("user-1", 100, 30, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO credit_transactions`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), time.Now()))
		mock.ExpectCommit()

		entry, err := NewCreditStore(db).Refund(context.Background(), "user-1", 30, "run-1")
		require.NoError(t, err)
		assert.Equal(t, 100, entry.BalanceAfter)
	})

	t.Run("duplicate refund rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("user-1").WillReturnRows(balanceRows(100))
		mock.ExpectExec(`UPDATE credit_balances`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// The partial unique index rejects the second REFUND row; the
		// balance update above rolls back with it.
		mock.ExpectQuery(`INSERT INTO credit_transactions`).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()

		_, err := NewCreditStore(db).Refund(context.Background(), "user-1", 30, "run-1")
		assert.ErrorIs(t, err, ErrAlreadyRefunded)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReset(t *testing.T) {
	db, mock := newMockDB(t)
	nextReset := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("user-1").WillReturnRows(balanceRows(5))
	mock.ExpectExec(`UPDATE credit_balances`).
		WithArgs("user-1", nextReset, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), time.Now()))
	mock.ExpectCommit()

	entry, err := NewCreditStore(db).Reset(context.Background(), "user-1", nextReset)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionReset, entry.Kind)
	// The balance survives the reset; only period usage clears.
	assert.Equal(t, 5, entry.BalanceAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}
