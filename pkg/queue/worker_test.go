package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raki39/frontgraph/pkg/config"
)

// The claim must take a row lock with SKIP LOCKED so concurrent workers
// claim distinct runs FIFO without blocking.
func TestClaimUsesSkipLockedFIFO(t *testing.T) {
	assert.Contains(t, claimRunSQL, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, claimRunSQL, "status = 'queued'")
	assert.Contains(t, claimRunSQL, "ORDER BY created_at ASC")
	assert.Contains(t, claimRunSQL, "LIMIT 1")
}

// The terminal write is guarded on the non-terminal statuses: after a
// crash and redelivery, the second completion finds the run already
// terminal and must not overwrite it.
func TestTerminalWriteIsGuarded(t *testing.T) {
	assert.Contains(t, terminalWriteSQL, "status IN ('queued', 'running')")
	assert.Contains(t, terminalWriteSQL, "finished_at = NOW()")
}

func TestClaimCountsAttempts(t *testing.T) {
	assert.Contains(t, markRunningSQL, "attempts = attempts + 1")
	assert.Contains(t, markRunningSQL, "status = 'running'")
}

func TestHeartbeatOnlyTouchesRunningRuns(t *testing.T) {
	assert.Contains(t, heartbeatSQL, "status = 'running'")
}

func TestOrphanRequeueRespectsAttemptBudget(t *testing.T) {
	assert.Contains(t, requeueOrphansSQL, "attempts < $2")
	assert.Contains(t, requeueOrphansSQL, "status = 'queued'")
	assert.Contains(t, failOrphansSQL, "attempts >= $2")
	assert.Contains(t, failOrphansSQL, "'failure'")
}

func TestPollIntervalJitterStaysBounded(t *testing.T) {
	w := NewWorker("w0", "pod", nil, &config.QueueConfig{
		PollInterval:       time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
	}, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestPollIntervalWithoutJitter(t *testing.T) {
	w := NewWorker("w0", "pod", nil, &config.QueueConfig{PollInterval: time.Second}, nil)
	assert.Equal(t, time.Second, w.pollInterval())
}

func TestWorkerHealthReflectsStatus(t *testing.T) {
	w := NewWorker("w0", "pod", nil, &config.QueueConfig{}, nil)

	h := w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)

	w.setStatus(WorkerStatusWorking, "run-1")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "run-1", h.CurrentRunID)
}
