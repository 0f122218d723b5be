package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// CreditStore persists credit balances and the append-only transaction
// ledger. Every balance mutation locks the balance row, applies the
// change, and records a ledger entry in the same transaction, so the
// invariant balance = total_earned - total_used holds at every commit.
type CreditStore struct {
	db *sqlx.DB
}

// NewCreditStore creates a CreditStore.
func NewCreditStore(db *sqlx.DB) *CreditStore {
	return &CreditStore{db: db}
}

// GetBalance returns a user's balance, or ErrNotFound.
func (s *CreditStore) GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	err := s.db.GetContext(ctx, &bal, `
		SELECT user_id, balance, used_this_period, next_reset_at, total_earned, total_used, updated_at
		FROM credit_balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &bal, nil
}

// EnsureBalance creates a balance row with an initial grant if the user
// has none. Existing rows are left untouched.
func (s *CreditStore) EnsureBalance(ctx context.Context, userID string, initialGrant int, nextReset time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, next_reset_at, total_earned, updated_at)
		VALUES ($1, $2, $3, $2, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, initialGrant, nextReset, time.Now())
	if err != nil {
		return fmt.Errorf("failed to ensure balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 && initialGrant > 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO credit_transactions (user_id, kind, amount, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			userID, models.TransactionAdd, initialGrant, initialGrant, time.Now())
		if err != nil {
			return fmt.Errorf("failed to record initial grant: %w", err)
		}
	}
	return nil
}

// Deduct atomically subtracts credits and records a DEDUCT entry.
// Returns ErrInsufficientCredits without mutating anything when the
// balance cannot cover the amount.
func (s *CreditStore) Deduct(ctx context.Context, userID string, amount int, opType models.OperationType, referenceID string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin deduct transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bal, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if bal.Balance < amount {
		return nil, ErrInsufficientCredits
	}

	newBalance := bal.Balance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = $2, used_this_period = used_this_period + $3,
		    total_used = total_used + $3, updated_at = $4
		WHERE user_id = $1`,
		userID, newBalance, amount, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry, err := insertTransaction(ctx, tx, &models.CreditTransaction{
		UserID:        userID,
		Kind:          models.TransactionDeduct,
		Amount:        amount,
		BalanceAfter:  newBalance,
		OperationType: strPtr(string(opType)),
		ReferenceID:   strPtr(referenceID),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deduct: %w", err)
	}
	return entry, nil
}

// Refund atomically returns credits and records a REFUND entry. The
// partial unique index on (reference_id) WHERE kind = 'REFUND' makes a
// second refund for the same reference fail with ErrAlreadyRefunded and
// roll back the balance change, so retries cannot double-credit.
func (s *CreditStore) Refund(ctx context.Context, userID string, amount int, referenceID string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin refund transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bal, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := bal.Balance + amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = $2, used_this_period = GREATEST(used_this_period - $3, 0),
		    total_used = GREATEST(total_used - $3, 0), updated_at = $4
		WHERE user_id = $1`,
		userID, newBalance, amount, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry, err := insertTransaction(ctx, tx, &models.CreditTransaction{
		UserID:       userID,
		Kind:         models.TransactionRefund,
		Amount:       amount,
		BalanceAfter: newBalance,
		ReferenceID:  strPtr(referenceID),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAlreadyRefunded
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	return entry, nil
}

// Add credits a user's balance and records an ADD entry.
func (s *CreditStore) Add(ctx context.Context, userID string, amount int) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("add amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin add transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bal, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := bal.Balance + amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = $2, total_earned = total_earned + $3, updated_at = $4
		WHERE user_id = $1`,
		userID, newBalance, amount, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry, err := insertTransaction(ctx, tx, &models.CreditTransaction{
		UserID:       userID,
		Kind:         models.TransactionAdd,
		Amount:       amount,
		BalanceAfter: newBalance,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit add: %w", err)
	}
	return entry, nil
}

// Reset zeroes the period usage and schedules the next reset. The
// balance itself is untouched; plan refills arrive as ADD entries.
// Records a RESET ledger entry for the audit trail.
func (s *CreditStore) Reset(ctx context.Context, userID string, nextReset time.Time) (*models.CreditTransaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bal, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET used_this_period = 0, next_reset_at = $2, updated_at = $3
		WHERE user_id = $1`,
		userID, nextReset, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to reset balance: %w", err)
	}

	entry, err := insertTransaction(ctx, tx, &models.CreditTransaction{
		UserID:       userID,
		Kind:         models.TransactionReset,
		Amount:       0,
		BalanceAfter: bal.Balance,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return entry, nil
}

// ListDueForReset returns balances whose reset time has passed.
func (s *CreditStore) ListDueForReset(ctx context.Context, now time.Time) ([]*models.CreditBalance, error) {
	var balances []*models.CreditBalance
	err := s.db.SelectContext(ctx, &balances, `
		SELECT user_id, balance, used_this_period, next_reset_at, total_earned, total_used, updated_at
		FROM credit_balances WHERE next_reset_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances due for reset: %w", err)
	}
	return balances, nil
}

// ListTransactions returns a user's ledger entries, newest first.
func (s *CreditStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.CreditTransaction, error) {
	var entries []*models.CreditTransaction
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, user_id, kind, amount, balance_after, operation_type, reference_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return entries, nil
}

func lockBalance(ctx context.Context, tx *sqlx.Tx, userID string) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	err := tx.GetContext(ctx, &bal, `
		SELECT user_id, balance, used_this_period, next_reset_at, total_earned, total_used, updated_at
		FROM credit_balances WHERE user_id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return &bal, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, entry *models.CreditTransaction) (*models.CreditTransaction, error) {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO credit_transactions (user_id, kind, amount, balance_after, operation_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		entry.UserID, entry.Kind, entry.Amount, entry.BalanceAfter,
		entry.OperationType, entry.ReferenceID, time.Now(),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return entry, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
