// Command frontgraph serves the HTTP API and runs the worker pool in one
// process. WORKER_COUNT=0 yields an API-only replica.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/raki39/frontgraph/pkg/api"
	"github.com/raki39/frontgraph/pkg/cache"
	"github.com/raki39/frontgraph/pkg/config"
	"github.com/raki39/frontgraph/pkg/database"
	"github.com/raki39/frontgraph/pkg/embedding"
	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/history"
	"github.com/raki39/frontgraph/pkg/llm"
	"github.com/raki39/frontgraph/pkg/pipeline"
	"github.com/raki39/frontgraph/pkg/queue"
	"github.com/raki39/frontgraph/pkg/registry"
	"github.com/raki39/frontgraph/pkg/runs"
	"github.com/raki39/frontgraph/pkg/services"
	"github.com/raki39/frontgraph/pkg/validation"
)

// modelFactory adapts llm.Factory to the queue's ModelFactory contract.
type modelFactory struct {
	factory *llm.Factory
}

func (m modelFactory) Model(modelID string) (pipeline.ModelClient, error) {
	return m.factory.Model(modelID)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("FRONTGRAPH_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect metadata database: %w", err)
	}
	defer db.Close()

	engines := engine.NewManager(cfg.DatasetDir)
	defer engines.Close()

	reg := registry.New()
	respCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	factory := llm.NewFactory(cfg.LLM)

	embedder, err := llm.NewEmbedder(cfg.LLM, cfg.History.EmbeddingModel)
	if err != nil {
		// History degrades to lexical-only; everything else still works.
		slog.Warn("Embedder unavailable, history falls back to lexical search", "error", err)
		embedder = nil
	}

	var generator *embedding.Generator
	var histEmbedder history.Embedder
	var embQueue history.EmbeddingQueue
	if embedder != nil {
		generator = embedding.NewGenerator(db.Pool(), embedder)
		generator.Start(ctx, 2)
		defer generator.Stop()
		histEmbedder = embedder
		embQueue = generator
	}

	histStore := history.NewStore(db.Pool(), histEmbedder, embQueue, cfg.History)

	userSvc := services.NewUserService(db.Pool())
	connSvc := services.NewConnectionService(db.Pool(), engines)
	agentSvc := services.NewAgentService(db.Pool(), respCache)
	chatSvc := services.NewChatService(db.Pool())
	runSvc := runs.NewService(db.Pool())

	var harness *validation.Harness
	if judge, err := factory.Judge(); err == nil {
		harness = validation.NewHarness(runSvc, judge)
	} else {
		slog.Info("Validation harness disabled", "reason", err)
	}

	pipe := pipeline.New(reg, respCache)
	executor := queue.NewExecutor(agentSvc, connSvc, engines, reg, modelFactory{factory}, histStore, pipe)

	podID := fmt.Sprintf("%s-%s", hostname(), uuid.New().String()[:8])
	var pool *queue.WorkerPool
	if cfg.Queue.WorkerCount > 0 {
		pool = queue.NewWorkerPool(podID, db.Pool(), &cfg.Queue, executor)
		pool.Start(ctx)
		defer pool.Stop()
	}

	server := api.NewServer(db, userSvc, connSvc, agentSvc, chatSvc, runSvc, harness, pool,
		api.NewTokenIssuer(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Addr, "pod_id", podID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "frontgraph"
	}
	return h
}
