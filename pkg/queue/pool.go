package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raki39/frontgraph/pkg/config"
)

const (
	queueDepthSQL = `SELECT COUNT(*) FROM runs WHERE status = 'queued'`

	activeRunsSQL = `SELECT COUNT(*) FROM runs WHERE status = 'running' AND pod_id = $1`

	// Orphaned runs still have retry budget: back to the queue for
	// another worker. Redelivery plus the idempotent terminal write gives
	// at-least-once execution.
	requeueOrphansSQL = `UPDATE runs SET status = 'queued', pod_id = '', last_heartbeat = NULL
		WHERE status = 'running'
		  AND last_heartbeat < NOW() - make_interval(secs => $1)
		  AND attempts < $2`

	// Runs out of budget are failed in place.
	failOrphansSQL = `UPDATE runs SET status = 'failure', error_kind = 'internal_error',
		error_message = 'run abandoned after repeated worker loss', finished_at = NOW()
		WHERE status = 'running'
		  AND last_heartbeat < NOW() - make_interval(secs => $1)
		  AND attempts >= $2`
)

// WorkerPool manages a pool of queue workers plus the orphan scanner.
type WorkerPool struct {
	podID    string
	pool     *pgxpool.Pool
	cfg      *config.QueueConfig
	executor RunExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(podID string, pool *pgxpool.Pool, cfg *config.QueueConfig, executor RunExecutor) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		pool:     pool,
		cfg:      cfg,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the workers and the orphan scanner. Safe to call once;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.podID, p.pool, p.cfg, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()
}

// Stop signals all workers to stop and waits for in-flight runs to finish
// (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "pod_id", p.podID)
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped", "pod_id", p.podID)
}

// runOrphanScan periodically requeues runs whose worker stopped
// heartbeating, and fails those with no retry budget left.
func (p *WorkerPool) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOrphans(ctx)
		}
	}
}

func (p *WorkerPool) scanOrphans(ctx context.Context) {
	thresholdSecs := p.cfg.OrphanThreshold.Seconds()

	tag, err := p.pool.Exec(ctx, requeueOrphansSQL, thresholdSecs, p.cfg.MaxAttempts)
	if err != nil {
		slog.Error("Orphan requeue failed", "pod_id", p.podID, "error", err)
	} else if tag.RowsAffected() > 0 {
		slog.Warn("Requeued orphaned runs", "pod_id", p.podID, "count", tag.RowsAffected())
	}

	tag, err = p.pool.Exec(ctx, failOrphansSQL, thresholdSecs, p.cfg.MaxAttempts)
	if err != nil {
		slog.Error("Orphan fail-out failed", "pod_id", p.podID, "error", err)
	} else if tag.RowsAffected() > 0 {
		slog.Warn("Failed exhausted orphan runs", "pod_id", p.podID, "count", tag.RowsAffected())
	}
}

// Health returns the pool's current health.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	var queueDepth, activeRuns int
	healthy := true

	if err := p.pool.QueryRow(ctx, queueDepthSQL).Scan(&queueDepth); err != nil {
		slog.Error("Failed to query queue depth", "pod_id", p.podID, "error", err)
		healthy = false
	}
	if err := p.pool.QueryRow(ctx, activeRunsSQL, p.podID).Scan(&activeRuns); err != nil {
		slog.Error("Failed to query active runs", "pod_id", p.podID, "error", err)
		healthy = false
	}

	stats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats[i] = worker.Health()
		if stats[i].Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:     healthy,
		PodID:         p.podID,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: activeWorkers,
		QueueDepth:    queueDepth,
		ActiveRuns:    activeRuns,
		WorkerStats:   stats,
	}
}
