package tokens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

type fakeMetricsStore struct {
	mu      sync.Mutex
	records []*models.TokenMetricsRecord
	failing bool
}

func (f *fakeMetricsStore) Insert(_ context.Context, rec *models.TokenMetricsRecord) error {
	if f.failing {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeMetricsStore) ReplaySince(_ context.Context, cutoff time.Time, fn func(*models.TokenMetricsRecord) error) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func record(user string, provider models.Provider, agent models.AgentID, in, out int) *models.TokenMetricsRecord {
	return &models.TokenMetricsRecord{
		UserID:        user,
		Provider:      provider,
		AgentType:     agent,
		TaskID:        "task-1",
		InputTokens:   in,
		OutputTokens:  out,
		EstimatedCost: 0.01,
		Success:       true,
		Timestamp:     time.Now().UTC(),
	}
}

func TestRecordUpdatesAllFourTotals(t *testing.T) {
	store := &fakeMetricsStore{}
	acc := NewAccounting(store)
	ctx := context.Background()

	require.NoError(t, acc.Record(ctx, record("user-1", models.ProviderOpenAI, models.AgentContentSummarizer, 100, 50)))
	require.NoError(t, acc.Record(ctx, record("user-1", models.ProviderPerplexity, models.AgentPerplexityResearcher, 200, 80)))
	require.NoError(t, acc.Record(ctx, record("user-2", models.ProviderOpenAI, models.AgentContentSummarizer, 10, 5)))

	usage := acc.Snapshot()
	assert.Equal(t, int64(3), usage.Global.Requests)
	assert.Equal(t, int64(310), usage.Global.InputTokens)
	assert.Equal(t, int64(135), usage.Global.OutputTokens)
	assert.Equal(t, int64(445), usage.Global.TotalTokens)

	assert.Equal(t, int64(2), usage.PerProvider[models.ProviderOpenAI].Requests)
	assert.Equal(t, int64(1), usage.PerProvider[models.ProviderPerplexity].Requests)
	assert.Equal(t, int64(2), usage.PerAgent[models.AgentContentSummarizer].Requests)
	assert.Equal(t, int64(2), usage.PerUser["user-1"].Requests)
	assert.Equal(t, int64(1), usage.PerUser["user-2"].Requests)
}

func TestRecordSkipsTotalsOnPersistFailure(t *testing.T) {
	store := &fakeMetricsStore{failing: true}
	acc := NewAccounting(store)

	err := acc.Record(context.Background(), record("user-1", models.ProviderOpenAI, models.AgentQualityChecker, 10, 10))
	require.Error(t, err)
	assert.Equal(t, int64(0), acc.Snapshot().Global.Requests)
}

func TestReplayRebuildsTotals(t *testing.T) {
	store := &fakeMetricsStore{}
	acc := NewAccounting(store)
	ctx := context.Background()

	require.NoError(t, acc.Record(ctx, record("user-1", models.ProviderOpenAI, models.AgentConceptExplainer, 100, 40)))
	old := record("user-1", models.ProviderOpenAI, models.AgentConceptExplainer, 999, 999)
	old.Timestamp = time.Now().Add(-40 * 24 * time.Hour)
	store.records = append(store.records, old)

	// A fresh instance starts empty and replays only the trailing window.
	fresh := NewAccounting(store)
	require.NoError(t, fresh.Replay(ctx, 30*24*time.Hour))

	usage := fresh.Snapshot()
	assert.Equal(t, int64(1), usage.Global.Requests)
	assert.Equal(t, int64(100), usage.Global.InputTokens)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestUserTotals(t *testing.T) {
	acc := NewAccounting(&fakeMetricsStore{})
	require.NoError(t, acc.Record(context.Background(),
		record("user-9", models.ProviderOpenAI, models.AgentCitationFormatter, 8, 2)))

	assert.Equal(t, int64(10), acc.UserTotals("user-9").TotalTokens)
	assert.Equal(t, int64(0), acc.UserTotals("nobody").TotalTokens)
}
