package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// fakeCreditStore mirrors the SQL store's semantics in memory, including
// refund idempotence and the balance invariant.
type fakeCreditStore struct {
	mu       sync.Mutex
	balances map[string]*models.CreditBalance
	ledger   []*models.CreditTransaction
	refunds  map[string]bool
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{
		balances: make(map[string]*models.CreditBalance),
		refunds:  make(map[string]bool),
	}
}

func (f *fakeCreditStore) GetBalance(_ context.Context, userID string) (*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *bal
	return &cp, nil
}

func (f *fakeCreditStore) EnsureBalance(_ context.Context, userID string, grant int, nextReset time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[userID]; ok {
		return nil
	}
	f.balances[userID] = &models.CreditBalance{
		UserID: userID, Balance: grant, TotalEarned: grant, NextResetAt: nextReset,
	}
	f.append(userID, models.TransactionAdd, grant, grant, nil, nil)
	return nil
}

func (f *fakeCreditStore) Deduct(_ context.Context, userID string, amount int, opType models.OperationType, refID string) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if bal.Balance < amount {
		return nil, store.ErrInsufficientCredits
	}
	bal.Balance -= amount
	bal.UsedThisPeriod += amount
	bal.TotalUsed += amount
	op := string(opType)
	return f.append(userID, models.TransactionDeduct, amount, bal.Balance, &op, &refID), nil
}

func (f *fakeCreditStore) Refund(_ context.Context, userID string, amount int, refID string) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refunds[refID] {
		return nil, store.ErrAlreadyRefunded
	}
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.refunds[refID] = true
	bal.Balance += amount
	bal.UsedThisPeriod = max(bal.UsedThisPeriod-amount, 0)
	bal.TotalUsed = max(bal.TotalUsed-amount, 0)
	return f.append(userID, models.TransactionRefund, amount, bal.Balance, nil, &refID), nil
}

func (f *fakeCreditStore) Add(_ context.Context, userID string, amount int) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	bal.Balance += amount
	bal.TotalEarned += amount
	return f.append(userID, models.TransactionAdd, amount, bal.Balance, nil, nil), nil
}

func (f *fakeCreditStore) Reset(_ context.Context, userID string, nextReset time.Time) (*models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	bal.UsedThisPeriod = 0
	bal.NextResetAt = nextReset
	return f.append(userID, models.TransactionReset, 0, bal.Balance, nil, nil), nil
}

func (f *fakeCreditStore) ListDueForReset(_ context.Context, now time.Time) ([]*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*models.CreditBalance
	for _, bal := range f.balances {
		if !bal.NextResetAt.After(now) {
			cp := *bal
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (f *fakeCreditStore) append(userID string, kind models.TransactionKind, amount, after int, op, ref *string) *models.CreditTransaction {
	entry := &models.CreditTransaction{
		ID: int64(len(f.ledger) + 1), UserID: userID, Kind: kind,
		Amount: amount, BalanceAfter: after, OperationType: op, ReferenceID: ref,
		CreatedAt: time.Now(),
	}
	f.ledger = append(f.ledger, entry)
	return entry
}

func newTestService() (*Service, *fakeCreditStore) {
	st := newFakeCreditStore()
	return NewService(st, config.DefaultCreditsConfig()), st
}

func TestHasCreditsSeedsNewUsers(t *testing.T) {
	svc, st := newTestService()
	ok, err := svc.HasCredits(context.Background(), "new-user", models.OperationFullPipeline, DefaultTier)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, initialGrant, st.balances["new-user"].Balance)
}

func TestReserveAndRefundRoundTrip(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 30, "run-1"))
	assert.Equal(t, initialGrant-30, st.balances["user-1"].Balance)

	require.NoError(t, svc.Refund(ctx, "user-1", 30, "run-1"))
	assert.Equal(t, initialGrant, st.balances["user-1"].Balance)
}

func TestRefundIdempotence(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 30, "run-1"))
	require.NoError(t, svc.Refund(ctx, "user-1", 30, "run-1"))
	// Second refund with the same reference is a no-op, not an error.
	require.NoError(t, svc.Refund(ctx, "user-1", 30, "run-1"))

	assert.Equal(t, initialGrant, st.balances["user-1"].Balance)
}

func TestReserveInsufficient(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", initialGrant, "run-1"))
	err := svc.Reserve(ctx, "user-1", 1, "run-2")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestBalanceInvariant(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 30, "run-1"))
	require.NoError(t, svc.Charge(ctx, "user-1", models.OperationSummarization, DefaultTier, "task-1"))
	require.NoError(t, svc.Refund(ctx, "user-1", 10, "run-1"))
	require.NoError(t, svc.Add(ctx, "user-1", 50))

	bal := st.balances["user-1"]
	assert.Equal(t, bal.TotalEarned-bal.TotalUsed, bal.Balance)
}

func TestResetMonthly(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 30, "run-1"))
	require.NotZero(t, st.balances["user-1"].UsedThisPeriod)
	balanceBefore := st.balances["user-1"].Balance

	require.NoError(t, svc.ResetMonthly(ctx, "user-1"))

	bal := st.balances["user-1"]
	assert.Zero(t, bal.UsedThisPeriod)
	assert.Equal(t, balanceBefore, bal.Balance)
	assert.Equal(t, 1, bal.NextResetAt.Day())
	assert.Equal(t, time.UTC, bal.NextResetAt.Location())
}

func TestResetDue(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 10, "run-1"))
	require.NoError(t, svc.Reserve(ctx, "user-2", 10, "run-2"))
	st.balances["user-1"].NextResetAt = time.Now().Add(-time.Hour)

	n, err := svc.ResetDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, st.balances["user-1"].UsedThisPeriod)
	assert.NotZero(t, st.balances["user-2"].UsedThisPeriod)
}

func TestNextMonthStart(t *testing.T) {
	assert.Equal(t,
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		NextMonthStart(time.Date(2026, 8, 24, 13, 45, 0, 0, time.UTC)))
	// December rolls into January of the next year.
	assert.Equal(t,
		time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		NextMonthStart(time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)))
}
