package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raki39/frontgraph/pkg/cache"
	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/history"
	"github.com/raki39/frontgraph/pkg/models"
	"github.com/raki39/frontgraph/pkg/registry"
)

// ModelClient is the contract with the LLM provider. Implemented by
// llm.Model; tests use fakes.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Database is the slice of the engine handle the pipeline needs.
type Database interface {
	Dialect() string
	Quote(ident string) string
	ListTables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]engine.Column, error)
	Sample(ctx context.Context, table string, n int) (*engine.Rows, error)
	Execute(ctx context.Context, sql string, limitRows int) (*engine.Rows, error)
}

// HistoryService is the slice of the history store the pipeline needs.
type HistoryService interface {
	Enabled() bool
	Relevant(ctx context.Context, userID, agentID, sessionID, queryText string, k int) []history.Scored
	Capture(ctx context.Context, sessionID, runID, userText, assistantText, sqlQuery string) (string, string, error)
}

// ResponseCache is the slice of the response cache the pipeline needs.
type ResponseCache interface {
	Get(agentID, fingerprint string) (cache.Answer, bool)
	Put(agentID, fingerprint string, ans cache.Answer)
}

// Bundle is the per-agent tuple of constructed collaborators, cached in
// the registry per (agent id, agent version, connection version) and
// referenced from the state by id.
type Bundle struct {
	Agent             *models.Agent
	Model             ModelClient
	DB                Database
	ConnectionVersion int
}

// Pipeline executes the node graph for one run. One instance is safe for
// concurrent use; all per-run data lives in the State.
type Pipeline struct {
	registry *registry.Registry
	cache    ResponseCache
	maxRows  int
}

// New creates a pipeline resolving bundles and history services from reg.
// respCache may be nil (caching disabled).
func New(reg *registry.Registry, respCache ResponseCache) *Pipeline {
	return &Pipeline{registry: reg, cache: respCache, maxRows: 1000}
}

// Result is the terminal outcome of one pipeline execution.
type Result struct {
	Status            models.RunStatus
	SQLUsed           string
	ResultData        string
	FormattedResponse string
	ExecutionMS       int64
	ResultRowsCount   int
	ErrorKind         models.ErrorKind
	ErrorMessage      string
	CacheHit          bool
}

// Run drives the state through the graph to a terminal result. Fatal node
// failures short-circuit to the error terminal; the per-run deadline on
// ctx surfaces as a timeout_error.
func (p *Pipeline) Run(ctx context.Context, st *State) *Result {
	if out := p.validateInput(ctx, st); out.Failed() {
		return p.fail(st, out)
	}

	if out := p.checkCache(ctx, st); out.Failed() {
		return p.fail(st, out)
	}
	if st.CacheHit {
		// A hit still records the exchange before finalising.
		p.historyCapture(ctx, st)
		return p.finalise(st)
	}

	p.historyRetrieve(ctx, st)

	if out := p.prepareContext(ctx, st); out.Failed() {
		return p.fail(st, p.timeoutAware(ctx, out))
	}

	p.processInitialContext(ctx, st)

	if out := p.processQuery(ctx, st); out.Failed() {
		return p.fail(st, p.timeoutAware(ctx, out))
	}

	p.refineResponse(ctx, st)
	p.formatResponse(st)
	p.historyCapture(ctx, st)
	p.cacheStore(st)

	return p.finalise(st)
}

// timeoutAware reclassifies a fatal outcome as timeout_error when the
// per-run budget elapsed — a cancelled LLM or database call otherwise
// reports as its own kind.
func (p *Pipeline) timeoutAware(ctx context.Context, out Outcome) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Fail(models.ErrKindTimeout, "per-run budget elapsed")
	}
	return out
}

func (p *Pipeline) fail(st *State, out Outcome) *Result {
	st.ErrorKind = out.Kind
	st.ErrorMessage = out.Message
	slog.Warn("Pipeline failed", "run_id", st.RunID, "error_kind", out.Kind, "error", out.Message)
	return &Result{
		Status:       models.RunFailure,
		ErrorKind:    out.Kind,
		ErrorMessage: out.Message,
		SQLUsed:      st.SQLQuery,
	}
}

func (p *Pipeline) finalise(st *State) *Result {
	return &Result{
		Status:            models.RunSuccess,
		SQLUsed:           st.SQLQuery,
		ResultData:        st.ResultData,
		FormattedResponse: st.FormattedResponse,
		ExecutionMS:       st.ExecutionMS,
		ResultRowsCount:   st.ResultRowCount,
		CacheHit:          st.CacheHit,
	}
}

// bundle resolves the agent bundle reference from the worker-local
// registry.
func (p *Pipeline) bundle(st *State) (*Bundle, error) {
	obj, err := p.registry.Get(registry.CategoryAgentBundle, st.AgentBundleRef)
	if err != nil {
		return nil, fmt.Errorf("agent bundle %q: %w", st.AgentBundleRef, err)
	}
	b, ok := obj.(*Bundle)
	if !ok {
		return nil, fmt.Errorf("agent bundle %q has unexpected type", st.AgentBundleRef)
	}
	return b, nil
}

// historyService resolves the run-scoped history service, when present.
func (p *Pipeline) historyService(st *State) HistoryService {
	if st.HistoryRef == "" {
		return nil
	}
	obj, err := p.registry.Get(registry.CategoryHistory, st.HistoryRef)
	if err != nil {
		return nil
	}
	h, ok := obj.(HistoryService)
	if !ok {
		return nil
	}
	return h
}
