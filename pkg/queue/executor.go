package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/masking"
	"github.com/raki39/frontgraph/pkg/models"
	"github.com/raki39/frontgraph/pkg/pipeline"
	"github.com/raki39/frontgraph/pkg/registry"
	"github.com/raki39/frontgraph/pkg/services"
)

// ModelFactory resolves a model id to a client. Implemented by an adapter
// over llm.Factory; tests use fakes.
type ModelFactory interface {
	Model(modelID string) (pipeline.ModelClient, error)
}

// Executor rehydrates everything a run needs from the database by id,
// resolves process-local resources through the registry, and drives the
// pipeline to a terminal result. Workers stay stateless with respect to
// run metadata.
type Executor struct {
	agents      *services.AgentService
	connections *services.ConnectionService
	engines     *engine.Manager
	registry    *registry.Registry
	factory     ModelFactory
	history     pipeline.HistoryService
	pipe        *pipeline.Pipeline
}

// NewExecutor creates a run executor.
func NewExecutor(agents *services.AgentService, connections *services.ConnectionService,
	engines *engine.Manager, reg *registry.Registry, factory ModelFactory,
	history pipeline.HistoryService, pipe *pipeline.Pipeline) *Executor {
	return &Executor{
		agents:      agents,
		connections: connections,
		engines:     engines,
		registry:    reg,
		factory:     factory,
		history:     history,
		pipe:        pipe,
	}
}

// Execute runs one claimed run to a terminal state.
func (e *Executor) Execute(ctx context.Context, run *models.Run) *ExecutionResult {
	agent, err := e.agents.GetAny(ctx, run.AgentID)
	if err != nil {
		return failResult(models.ErrKindInvalidInput, fmt.Sprintf("agent %s: %s", run.AgentID, err))
	}
	conn, err := e.connections.GetAny(ctx, agent.ConnectionID)
	if err != nil {
		return failResult(models.ErrKindInternal, fmt.Sprintf("connection %s: %s", agent.ConnectionID, err))
	}

	handle, err := e.resolveEngine(ctx, conn)
	if err != nil {
		return failResult(models.ErrKindConnect, masking.Error(err))
	}

	bundleRef, err := e.resolveBundle(agent, conn, handle)
	if err != nil {
		return failResult(models.ErrKindModel, err.Error())
	}

	// The history service is run-scoped in the registry and released on
	// every exit path.
	historyRef := e.registry.Put(registry.CategoryHistory, e.history)
	defer e.registry.Drop(registry.CategoryHistory, historyRef)

	st := &pipeline.State{
		UserInput:      run.Question,
		UserID:         run.UserID,
		AgentID:        run.AgentID,
		RunID:          run.ID,
		ChatSessionID:  run.ChatSessionID,
		ConnectionID:   conn.ID,
		ConnectionKind: string(conn.Kind),
		AgentBundleRef: bundleRef,
		HistoryRef:     historyRef,
	}

	res := e.pipe.Run(ctx, st)
	return &ExecutionResult{
		Status:          res.Status,
		SQLUsed:         res.SQLUsed,
		ResultData:      resultPayload(res),
		ExecutionMS:     res.ExecutionMS,
		ResultRowsCount: res.ResultRowsCount,
		ErrorKind:       res.ErrorKind,
		ErrorMessage:    res.ErrorMessage,
	}
}

// resolveEngine returns the pooled engine handle for the connection,
// keyed by (connection id, version) so mutated connections dial fresh.
func (e *Executor) resolveEngine(ctx context.Context, conn *models.Connection) (*engine.Handle, error) {
	key := fmt.Sprintf("%s:%d", conn.ID, conn.Version)
	if obj, err := e.registry.Get(registry.CategoryEngine, key); err == nil {
		if h, ok := obj.(*engine.Handle); ok {
			return h, nil
		}
	}

	handle, err := e.engines.Open(ctx, conn.Kind, conn.Payload)
	if err != nil {
		return nil, err
	}
	e.registry.PutWithID(registry.CategoryEngine, key, handle)
	return handle, nil
}

// resolveBundle returns the cached agent bundle for (agent id, agent
// version, connection version), building it on first use in this worker
// process.
func (e *Executor) resolveBundle(agent *models.Agent, conn *models.Connection, handle *engine.Handle) (string, error) {
	key := fmt.Sprintf("%s:%d:%d", agent.ID, agent.Version, conn.Version)
	if _, err := e.registry.Get(registry.CategoryAgentBundle, key); err == nil {
		return key, nil
	}

	model, err := e.factory.Model(agent.ModelID)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", agent.ModelID, err)
	}
	e.registry.PutWithID(registry.CategoryAgentBundle, key, &pipeline.Bundle{
		Agent:             agent,
		Model:             model,
		DB:                handle,
		ConnectionVersion: conn.Version,
	})
	slog.Info("Agent bundle built", "agent_id", agent.ID, "agent_version", agent.Version, "connection_version", conn.Version)
	return key, nil
}

// resultPayload picks what lands in the run record's result_data: the
// formatted response, since the UI renders it directly. The formatted
// response carries no result rows; the raw row data is stored only when
// there is no formatted response.
func resultPayload(res *pipeline.Result) string {
	if res.FormattedResponse != "" {
		return res.FormattedResponse
	}
	return res.ResultData
}

func failResult(kind models.ErrorKind, msg string) *ExecutionResult {
	return &ExecutionResult{
		Status:       models.RunFailure,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
}
