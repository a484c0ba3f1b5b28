// Package embedding converts message text to fixed-dimension vectors in
// the background. Messages whose vectors never materialise stay searchable
// lexically; generation failure is degradation, not an error.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Embedder is the external vector provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Generation bounds.
const (
	maxRetries   = 2
	retryBackoff = 2 * time.Second
	jobTimeout   = 30 * time.Second
	queueDepth   = 256
)

const (
	loadMessageSQL = `SELECT content FROM messages WHERE id = $1`

	upsertEmbeddingSQL = `INSERT INTO message_embeddings (id, message_id, embedding, model_version, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (message_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, model_version = EXCLUDED.model_version`
)

// Generator runs background workers that drain a job channel of message
// ids. It satisfies history.EmbeddingQueue.
type Generator struct {
	pool     *pgxpool.Pool
	embedder Embedder

	jobs     chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGenerator creates a generator; call Start to begin processing.
func NewGenerator(pool *pgxpool.Pool, embedder Embedder) *Generator {
	return &Generator{
		pool:     pool,
		embedder: embedder,
		jobs:     make(chan string, queueDepth),
		stopCh:   make(chan struct{}),
	}
}

// Start launches n worker goroutines.
func (g *Generator) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		g.wg.Add(1)
		go g.run(ctx)
	}
}

// Stop signals workers to finish and waits for them.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
}

// Enqueue schedules vector generation for one message. When the queue is
// saturated the job is dropped with a warning — the message remains
// lexically searchable.
func (g *Generator) Enqueue(messageID string) {
	select {
	case g.jobs <- messageID:
	default:
		slog.Warn("embedding queue saturated, dropping job", "message_id", messageID)
	}
}

func (g *Generator) run(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		case messageID := <-g.jobs:
			if err := g.Generate(ctx, messageID); err != nil {
				slog.Warn("embedding generation failed permanently",
					"message_id", messageID, "error", err)
			}
		}
	}
}

// Generate loads the message, obtains its vector and upserts it keyed by
// message id. Transient errors are retried with backoff up to maxRetries;
// the final error is returned for the caller to log.
func (g *Generator) Generate(ctx context.Context, messageID string) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		if lastErr = g.generateOnce(ctx, messageID); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (g *Generator) generateOnce(ctx context.Context, messageID string) error {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	var content string
	if err := g.pool.QueryRow(jobCtx, loadMessageSQL, messageID).Scan(&content); err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	vec, err := g.embedder.Embed(jobCtx, content)
	if err != nil {
		return fmt.Errorf("embed message: %w", err)
	}

	_, err = g.pool.Exec(jobCtx, upsertEmbeddingSQL,
		uuid.New().String(), messageID, pgvector.NewVector(vec), g.embedder.ModelName())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}
