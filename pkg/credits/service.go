// Package credits implements credit accounting: cost resolution,
// reserve/charge/refund on user balances, and the monthly period reset.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// ErrInsufficientCredits mirrors the store sentinel for callers that
// import only this package.
var ErrInsufficientCredits = store.ErrInsufficientCredits

// Store is the persistence surface the service needs.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error)
	EnsureBalance(ctx context.Context, userID string, initialGrant int, nextReset time.Time) error
	Deduct(ctx context.Context, userID string, amount int, opType models.OperationType, referenceID string) (*models.CreditTransaction, error)
	Refund(ctx context.Context, userID string, amount int, referenceID string) (*models.CreditTransaction, error)
	Add(ctx context.Context, userID string, amount int) (*models.CreditTransaction, error)
	Reset(ctx context.Context, userID string, nextReset time.Time) (*models.CreditTransaction, error)
	ListDueForReset(ctx context.Context, now time.Time) ([]*models.CreditBalance, error)
}

// DefaultTier is the subscription tier used when none is known.
const DefaultTier = "default"

// initialGrant seeds new balances so first-time users can run the
// pipeline a few times before topping up.
const initialGrant = 100

// Service resolves operation costs and mutates balances. All balance
// mutations are serialized per user by the store's row-level locks.
type Service struct {
	store Store
	cfg   *config.CreditsConfig
}

// NewService creates a credit service.
func NewService(store Store, cfg *config.CreditsConfig) *Service {
	return &Service{store: store, cfg: cfg}
}

// Cost resolves the credit cost of an operation for a tier.
func (s *Service) Cost(op models.OperationType, tier string) int {
	return s.cfg.Cost(op, tier)
}

// HasCredits reports whether the user can afford an operation. Unknown
// users are seeded with the initial grant first.
func (s *Service) HasCredits(ctx context.Context, userID string, op models.OperationType, tier string) (bool, error) {
	bal, err := s.balanceOrSeed(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.Balance >= s.Cost(op, tier), nil
}

// Reserve deducts an amount up front. The reservation is recorded as a
// DEDUCT referencing the run so later refunds can key off it.
func (s *Service) Reserve(ctx context.Context, userID string, amount int, referenceID string) error {
	if _, err := s.balanceOrSeed(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Deduct(ctx, userID, amount, models.OperationFullPipeline, referenceID); err != nil {
		return fmt.Errorf("failed to reserve %d credits for user %s: %w", amount, userID, err)
	}
	slog.Info("Credits reserved", "user_id", userID, "amount", amount, "reference_id", referenceID)
	return nil
}

// Charge deducts the cost of one operation.
func (s *Service) Charge(ctx context.Context, userID string, op models.OperationType, tier, referenceID string) error {
	cost := s.Cost(op, tier)
	if cost == 0 {
		return nil
	}
	if _, err := s.balanceOrSeed(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Deduct(ctx, userID, cost, op, referenceID); err != nil {
		return fmt.Errorf("failed to charge %d credits for %s: %w", cost, op, err)
	}
	return nil
}

// Refund returns reserved-but-unused credits. Idempotent per reference:
// a duplicate refund is a logged no-op, so retries after a crash cannot
// double-credit.
func (s *Service) Refund(ctx context.Context, userID string, amount int, referenceID string) error {
	if amount <= 0 {
		return nil
	}
	_, err := s.store.Refund(ctx, userID, amount, referenceID)
	if errors.Is(err, store.ErrAlreadyRefunded) {
		slog.Info("Refund already recorded, skipping",
			"user_id", userID, "reference_id", referenceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refund %d credits for user %s: %w", amount, userID, err)
	}
	slog.Info("Credits refunded", "user_id", userID, "amount", amount, "reference_id", referenceID)
	return nil
}

// Add credits a balance (top-ups, plan refills).
func (s *Service) Add(ctx context.Context, userID string, amount int) error {
	if _, err := s.balanceOrSeed(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Add(ctx, userID, amount); err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	return nil
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	return s.balanceOrSeed(ctx, userID)
}

// ResetMonthly zeroes the user's period usage and schedules the next
// reset for the first of the following month, 00:00 UTC.
func (s *Service) ResetMonthly(ctx context.Context, userID string) error {
	if _, err := s.store.Reset(ctx, userID, NextMonthStart(time.Now().UTC())); err != nil {
		return fmt.Errorf("failed to reset period for user %s: %w", userID, err)
	}
	return nil
}

// ResetDue resets every balance whose period has lapsed. Returns the
// number of balances reset.
func (s *Service) ResetDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDueForReset(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, bal := range due {
		if err := s.ResetMonthly(ctx, bal.UserID); err != nil {
			slog.Error("Period reset failed", "user_id", bal.UserID, "error", err)
		}
	}
	return len(due), nil
}

func (s *Service) balanceOrSeed(ctx context.Context, userID string) (*models.CreditBalance, error) {
	bal, err := s.store.GetBalance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.store.EnsureBalance(ctx, userID, initialGrant, NextMonthStart(time.Now().UTC())); err != nil {
			return nil, err
		}
		return s.store.GetBalance(ctx, userID)
	}
	return bal, err
}

// NextMonthStart returns the first instant of the month after t, UTC.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
