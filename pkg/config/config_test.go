package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, DefaultRunTimeout, cfg.Queue.RunTimeout)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 15, cfg.History.MaxMessages)
	assert.InDelta(t, 0.75, cfg.History.SimilarityThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestRunTimeoutCeiling(t *testing.T) {
	t.Setenv("FRONTGRAPH_RUN_TIMEOUT", "99999s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MaxRunTimeout, cfg.Queue.RunTimeout, "the per-run budget is capped at the hard ceiling")
}

func TestRunTimeoutAcceptsBareSeconds(t *testing.T) {
	t.Setenv("FRONTGRAPH_RUN_TIMEOUT", "300")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.Queue.RunTimeout)
}

func TestRunTimeoutRejectsGarbage(t *testing.T) {
	t.Setenv("FRONTGRAPH_RUN_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestHistoryEnvOverrides(t *testing.T) {
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("HISTORY_MAX_MESSAGES", "5")
	t.Setenv("HISTORY_SIMILARITY_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 5, cfg.History.MaxMessages)
	assert.InDelta(t, 0.9, cfg.History.SimilarityThreshold, 1e-9)
}

func TestWorkerSizingOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("WORKER_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrentRuns)
}
