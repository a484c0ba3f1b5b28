// Package queue provides the durable run queue and worker pool. The queue
// is the metadata database itself: queued runs are claimed FIFO with
// FOR UPDATE SKIP LOCKED, heartbeats mark liveness, and an orphan scanner
// requeues runs abandoned by crashed workers. Delivery is at-least-once;
// the terminal write is idempotent on the run id.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/raki39/frontgraph/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued runs are waiting.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the global concurrent run limit is reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor executes one claimed run to a terminal state. The worker
// only handles claiming, heartbeat, the terminal write and release.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.Run) *ExecutionResult
}

// ExecutionResult is the terminal state of one run execution.
type ExecutionResult struct {
	Status          models.RunStatus
	SQLUsed         string
	ResultData      string
	ExecutionMS     int64
	ResultRowsCount int
	ErrorKind       models.ErrorKind
	ErrorMessage    string
}

// PoolHealth reports worker pool state.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	PodID         string         `json:"pod_id"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveWorkers int            `json:"active_workers"`
	QueueDepth    int            `json:"queue_depth"`
	ActiveRuns    int            `json:"active_runs"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth reports one worker's state.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
