package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
)

type fakeTasks struct {
	mu      sync.Mutex
	calls   []string
	failMsg string
}

func (f *fakeTasks) Start(_ context.Context, taskID string) error {
	f.record("start")
	return nil
}

func (f *fakeTasks) Complete(_ context.Context, taskID string, result []byte) error {
	f.record("complete")
	return nil
}

func (f *fakeTasks) Fail(_ context.Context, taskID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fail")
	f.failMsg = errorMessage
	return nil
}

func (f *fakeTasks) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTasks) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeHandler struct {
	mu       sync.Mutex
	calls    int
	data     models.ResultData
	degraded bool
	usage    *Usage
	err      error
	block    chan struct{}
}

func (f *fakeHandler) Execute(ctx context.Context, _ map[string]any) (models.ResultData, bool, *Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, false, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, false, nil, f.err
	}
	return f.data, f.degraded, f.usage, nil
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memMetricsStore struct {
	mu   sync.Mutex
	recs []*models.TokenMetricsRecord
}

func (m *memMetricsStore) Insert(_ context.Context, rec *models.TokenMetricsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memMetricsStore) ReplaySince(_ context.Context, _ time.Time, _ func(*models.TokenMetricsRecord) error) (int64, error) {
	return 0, nil
}

func testRuntime(t *testing.T, handler Handler, failureThreshold int) (*Runtime, *fakeTasks, *tokens.Accounting) {
	t.Helper()
	agentCfg := &config.AgentConfig{
		MaxRetries:     2,
		InitialDelay:   time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        2,
	}
	circuitCfg := &config.CircuitConfig{
		FailureThreshold: failureThreshold,
		OpenDuration:     time.Minute,
		ProbeTimeout:     time.Second,
	}
	tasks := &fakeTasks{}
	accounting := tokens.NewAccounting(&memMetricsStore{})
	breaker := reliability.NewBreaker(models.AgentContentSummarizer, circuitCfg, nil)
	retrier := reliability.NewRetrier(models.AgentContentSummarizer, agentCfg, circuitCfg, breaker, &reliability.Stats{})
	rt := NewRuntime(models.AgentContentSummarizer, handler, tasks, retrier, breaker, accounting, agentCfg)
	return rt, tasks, accounting
}

func testTask() *models.AgentTask {
	return &models.AgentTask{
		ID:      "task-1",
		RunID:   "run-1",
		AgentID: models.AgentContentSummarizer,
		UserID:  "user-1",
		Input:   []byte(`{"textContent": "some paper text"}`),
	}
}

func TestProcessSuccess(t *testing.T) {
	handler := &fakeHandler{
		data:  models.Summary{Brief: "short"},
		usage: &Usage{Provider: models.ProviderOpenAI, InputTokens: 10, OutputTokens: 20},
	}
	rt, tasks, accounting := testRuntime(t, handler, 1000)

	result := rt.Process(context.Background(), testTask())

	require.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, models.Summary{Brief: "short"}, result.Data)
	assert.Equal(t, []string{"start", "complete"}, tasks.sequence())

	usage := accounting.Snapshot()
	assert.Equal(t, int64(30), usage.Global.TotalTokens)
}

func TestProcessNonRetryableFailure(t *testing.T) {
	handler := &fakeHandler{err: &reliability.HTTPError{StatusCode: 400, Body: "bad request"}}
	rt, tasks, _ := testRuntime(t, handler, 1000)

	result := rt.Process(context.Background(), testTask())

	require.False(t, result.Success)
	assert.Equal(t, 1, handler.callCount(), "4xx must not be retried")
	assert.Equal(t, []string{"start", "fail"}, tasks.sequence())
}

func TestProcessRetriesTransientFailure(t *testing.T) {
	handler := &fakeHandler{err: &reliability.HTTPError{StatusCode: 503, Body: "unavailable"}}
	rt, _, _ := testRuntime(t, handler, 1000)

	result := rt.Process(context.Background(), testTask())

	require.False(t, result.Success)
	// max_retries = 2 means three attempts.
	assert.Equal(t, 3, handler.callCount())
}

func TestProcessCancellation(t *testing.T) {
	handler := &fakeHandler{block: make(chan struct{})}
	rt, tasks, _ := testRuntime(t, handler, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := rt.Process(ctx, testTask())

	require.False(t, result.Success)
	assert.Equal(t, "cancelled", result.ErrorMessage)
	assert.Equal(t, "cancelled", tasks.failMsg)
	assert.Equal(t, 1, handler.callCount())
}

func TestProcessFailsFastOnOpenCircuit(t *testing.T) {
	handler := &fakeHandler{data: models.Summary{Brief: "unused"}}
	rt, tasks, _ := testRuntime(t, handler, 1)

	// Trip the breaker directly; threshold is one failure.
	_ = rt.breaker.Execute(func() error { return errors.New("provider down") })
	require.True(t, rt.breaker.Open())

	result := rt.Process(context.Background(), testTask())

	require.False(t, result.Success)
	assert.Equal(t, "CircuitOpen", result.ErrorMessage)
	assert.Equal(t, "CircuitOpen", tasks.failMsg)
	assert.Zero(t, handler.callCount(), "open circuit must not invoke the provider")
}

func TestProcessDegradedResult(t *testing.T) {
	handler := &fakeHandler{
		data:     models.Degraded{Raw: map[string]any{"unexpected": "shape"}},
		degraded: true,
	}
	rt, tasks, _ := testRuntime(t, handler, 1000)

	result := rt.Process(context.Background(), testTask())

	require.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, []string{"start", "complete"}, tasks.sequence())
}

func TestProcessMissingInput(t *testing.T) {
	handler := NewPaperProcessorHandler()
	rt, tasks, _ := testRuntime(t, handler, 1000)

	task := testTask()
	task.Input = []byte(`{"unrelated": true}`)
	result := rt.Process(context.Background(), task)

	require.False(t, result.Success)
	assert.ErrorContains(t, errors.New(tasks.failMsg), "required input missing")
}
