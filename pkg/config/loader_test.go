package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "answer42.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitializeWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Len(t, cfg.Agents, 9)
	assert.Equal(t, 30, cfg.Pipeline.DefaultCreditCost)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 45, cfg.Pipeline.ProgressFor(models.AgentContentSummarizer))
	assert.True(t, cfg.Pipeline.IsBestEffort(models.AgentMetadataEnhancer))
	assert.False(t, cfg.Pipeline.IsBestEffort(models.AgentQualityChecker))
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
}

func TestInitializeOverlaysUserYAML(t *testing.T) {
	dir := writeConfig(t, `
agents:
  PAPER_PROCESSOR:
    max_retries: 7
pipeline:
  default_credit_cost: 24
queue:
  worker_count: 2
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	// Overridden fields take the user value; untouched fields keep defaults.
	assert.Equal(t, 7, cfg.Agents[models.AgentPaperProcessor].MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Agents[models.AgentPaperProcessor].InitialDelay)
	assert.Equal(t, 4, cfg.Agents[models.AgentContentSummarizer].MaxRetries)
	assert.Equal(t, 24, cfg.Pipeline.DefaultCreditCost)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
}

func TestInitializeRejectsUnknownAgent(t *testing.T) {
	dir := writeConfig(t, `
agents:
  TIME_TRAVELLER:
    max_retries: 1
`)

	_, err := Initialize(dir)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitializeRejectsInvalidValues(t *testing.T) {
	dir := writeConfig(t, `
circuit:
  failure_threshold: -1
`)

	_, err := Initialize(dir)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitializeRejectsMalformedYAML(t *testing.T) {
	dir := writeConfig(t, "agents: [not a map")

	_, err := Initialize(dir)
	require.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ANSWER42_TEST_KEY", "sk-secret")

	out := ExpandEnv([]byte("api_key: {{.ANSWER42_TEST_KEY}}"))
	assert.Equal(t, "api_key: sk-secret", string(out))

	// Missing variables expand to empty rather than erroring.
	out = ExpandEnv([]byte("api_key: {{.ANSWER42_TEST_MISSING}}"))
	assert.Equal(t, "api_key: ", string(out))

	// Literal $ content passes through untouched.
	out = ExpandEnv([]byte("pattern: a$b"))
	assert.Equal(t, "pattern: a$b", string(out))
}

func TestCreditCostTierFallback(t *testing.T) {
	costs := DefaultCreditsConfig()

	assert.Equal(t, 30, costs.Cost(models.OperationFullPipeline, "default"))
	assert.Equal(t, 18, costs.Cost(models.OperationFullPipeline, "scholar"))
	assert.Equal(t, 30, costs.Cost(models.OperationFullPipeline, "unknown-tier"))
	assert.Equal(t, 0, costs.Cost(models.OperationType("NO_SUCH_OP"), "default"))
}

func TestAgentFallbackForUnknownID(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	ac := cfg.Agent(models.AgentID("SOMETHING_NEW"))
	require.NotNil(t, ac)
	assert.Equal(t, 3, ac.MaxRetries)
	assert.Equal(t, DefaultAgentWorkers, ac.Workers)
}
