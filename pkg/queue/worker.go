package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raki39/frontgraph/pkg/config"
	"github.com/raki39/frontgraph/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

const (
	countRunningSQL = `SELECT COUNT(*) FROM runs WHERE status = 'running'`

	// FIFO claim: the row lock with SKIP LOCKED lets concurrent workers
	// claim distinct runs without blocking each other.
	claimRunSQL = `SELECT id, agent_id, user_id, COALESCE(chat_session_id, ''), question, attempts
		FROM runs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	markRunningSQL = `UPDATE runs SET status = 'running', pod_id = $2, attempts = attempts + 1, last_heartbeat = NOW()
		WHERE id = $1`

	heartbeatSQL = `UPDATE runs SET last_heartbeat = NOW() WHERE id = $1 AND status = 'running'`

	// The status guard makes the terminal write idempotent: a redelivered
	// completion finds the run already terminal and affects zero rows.
	terminalWriteSQL = `UPDATE runs SET status = $2, sql_used = $3, result_data = $4, execution_ms = $5,
		result_rows_count = $6, error_kind = $7, error_message = $8, finished_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'running')`
)

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id       string
	podID    string
	pool     *pgxpool.Pool
	cfg      *config.QueueConfig
	executor RunExecutor
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id, podID string, pool *pgxpool.Pool, cfg *config.QueueConfig, executor RunExecutor) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		pool:         pool,
		cfg:          cfg,
		executor:     executor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// run. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the base interval with jitter so workers across
// replicas stay de-synchronised.
func (w *Worker) pollInterval() time.Duration {
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return w.cfg.PollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return w.cfg.PollInterval + offset
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Global capacity check; best-effort and racy across workers, bounded
	// by the worker count and mitigated by poll jitter.
	var active int
	if err := w.pool.QueryRow(ctx, countRunningSQL).Scan(&active); err != nil {
		return fmt.Errorf("checking active runs: %w", err)
	}
	if active >= w.cfg.MaxConcurrentRuns {
		return ErrAtCapacity
	}

	run, err := w.claimNextRun(ctx)
	if err != nil {
		return err
	}

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed", "attempt", run.Attempts)

	w.setStatus(WorkerStatusWorking, run.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancelRun()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	defer cancelHeartbeat()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runHeartbeat(heartbeatCtx, run.ID)
	}()

	result := w.executor.Execute(runCtx, run)
	cancelHeartbeat()

	if err := w.writeTerminal(context.WithoutCancel(ctx), run.ID, result); err != nil {
		return fmt.Errorf("writing terminal state: %w", err)
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run finished", "status", result.Status, "error_kind", result.ErrorKind)
	return nil
}

// claimNextRun atomically claims the oldest queued run.
func (w *Worker) claimNextRun(ctx context.Context) (*models.Run, error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var run models.Run
	err = tx.QueryRow(ctx, claimRunSQL).
		Scan(&run.ID, &run.AgentID, &run.UserID, &run.ChatSessionID, &run.Question, &run.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRunsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued run: %w", err)
	}

	if _, err := tx.Exec(ctx, markRunningSQL, run.ID, w.podID); err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	run.Status = models.RunRunning
	run.Attempts++
	return &run, nil
}

// runHeartbeat periodically refreshes last_heartbeat for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, runID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.pool.Exec(ctx, heartbeatSQL, runID); err != nil {
				slog.Warn("Heartbeat update failed", "run_id", runID, "error", err)
			}
		}
	}
}

// writeTerminal writes the final run record. Guarded on the non-terminal
// statuses, it is idempotent: a second completion after redelivery is a
// no-op and never overwrites the first terminal write.
func (w *Worker) writeTerminal(ctx context.Context, runID string, result *ExecutionResult) error {
	tag, err := w.pool.Exec(ctx, terminalWriteSQL, runID,
		string(result.Status), result.SQLUsed, result.ResultData,
		result.ExecutionMS, result.ResultRowsCount,
		string(result.ErrorKind), result.ErrorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		slog.Info("Terminal state already written, skipping", "run_id", runID)
	}
	return nil
}

func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
