package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/cache"
	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/history"
	"github.com/raki39/frontgraph/pkg/models"
	"github.com/raki39/frontgraph/pkg/registry"
)

// fakeModel returns canned responses per system prompt so one fake serves
// the SQL-generation, answering, processing and refinement calls.
type fakeModel struct {
	sqlResponse   string
	answer        string
	generateErr   error
	refusedSystem string
	calls         []string
}

func (m *fakeModel) Generate(_ context.Context, prompt string) (string, error) {
	m.calls = append(m.calls, "generate")
	return m.answer, m.generateErr
}

func (m *fakeModel) GenerateWithSystem(_ context.Context, systemPrompt, _ string) (string, error) {
	m.calls = append(m.calls, systemPrompt[:20])
	if m.generateErr != nil {
		return "", m.generateErr
	}
	switch {
	case strings.Contains(systemPrompt, "SQL generator"):
		return m.sqlResponse, nil
	case strings.Contains(systemPrompt, "data analyst"):
		return m.answer, nil
	case strings.Contains(systemPrompt, "condense"):
		return "use table orders", nil
	case strings.Contains(systemPrompt, "rewrite"):
		return "refined: " + m.answer, nil
	}
	return "", fmt.Errorf("unexpected system prompt")
}

// fakeDB implements Database over an in-memory table set.
type fakeDB struct {
	tables         []string
	listCalls      int
	executeCalls   []string
	failStatements map[string]error
	rows           *engine.Rows
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tables: []string{"orders", "customers"},
		rows: &engine.Rows{
			Columns: []string{"count"},
			Rows:    [][]any{{int64(42)}},
		},
		failStatements: map[string]error{},
	}
}

func (d *fakeDB) Dialect() string          { return "postgres" }
func (d *fakeDB) Quote(ident string) string { return `"` + ident + `"` }

func (d *fakeDB) ListTables(context.Context) ([]string, error) {
	d.listCalls++
	return d.tables, nil
}

func (d *fakeDB) Columns(_ context.Context, table string) ([]engine.Column, error) {
	return []engine.Column{{Name: "id", Type: "bigint"}, {Name: "amount", Type: "numeric"}}, nil
}

func (d *fakeDB) Sample(_ context.Context, table string, n int) (*engine.Rows, error) {
	return &engine.Rows{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}, nil
}

func (d *fakeDB) Execute(_ context.Context, sqlText string, limit int) (*engine.Rows, error) {
	d.executeCalls = append(d.executeCalls, sqlText)
	if err, ok := d.failStatements[sqlText]; ok {
		return nil, err
	}
	return d.rows, nil
}

// fakeHistory records captures.
type fakeHistory struct {
	enabled    bool
	relevant   []history.Scored
	captures   [][3]string
	captureErr error
}

func (h *fakeHistory) Enabled() bool { return h.enabled }

func (h *fakeHistory) Relevant(_ context.Context, _, _, _, _ string, _ int) []history.Scored {
	return h.relevant
}

func (h *fakeHistory) Capture(_ context.Context, sessionID, _, userText, assistantText, _ string) (string, string, error) {
	h.captures = append(h.captures, [3]string{sessionID, userText, assistantText})
	if h.captureErr != nil {
		return "", "", h.captureErr
	}
	return "mu", "ma", nil
}

type fixture struct {
	pipe    *Pipeline
	reg     *registry.Registry
	cache   *cache.Cache
	model   *fakeModel
	db      *fakeDB
	hist    *fakeHistory
	agent   *models.Agent
	state   *State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	respCache := cache.New(16, 0)

	agent := &models.Agent{
		ID: "agent-1", OwnerUserID: "user-1", ConnectionID: "conn-1",
		ModelID: "gpt-4o-mini", TopK: 10, IncludedTables: "*",
	}
	model := &fakeModel{
		sqlResponse: "Here you go:\n```sql\nSELECT COUNT(*) FROM orders\n```",
		answer:      "There are 42 rows in orders.",
	}
	db := newFakeDB()
	bundleRef := reg.Put(registry.CategoryAgentBundle, &Bundle{
		Agent: agent, Model: model, DB: db, ConnectionVersion: 1,
	})

	hist := &fakeHistory{enabled: true}
	histRef := reg.Put(registry.CategoryHistory, HistoryService(hist))

	st := &State{
		UserInput:      "How many rows in orders?",
		UserID:         "user-1",
		AgentID:        "agent-1",
		RunID:          "run-1",
		ChatSessionID:  "sess-1",
		AgentBundleRef: bundleRef,
		HistoryRef:     histRef,
	}
	return &fixture{
		pipe: New(reg, respCache), reg: reg, cache: respCache,
		model: model, db: db, hist: hist, agent: agent, state: st,
	}
}

func TestColdRunSucceeds(t *testing.T) {
	f := newFixture(t)

	res := f.pipe.Run(context.Background(), f.state)

	require.Equal(t, models.RunSuccess, res.Status)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", res.SQLUsed)
	assert.Equal(t, 1, res.ResultRowsCount)
	assert.False(t, res.CacheHit)
	assert.Contains(t, res.FormattedResponse, "There are 42 rows in orders.")
	assert.Contains(t, res.FormattedResponse, "```sql")
	assert.Contains(t, res.FormattedResponse, "Linhas retornadas: 1")
	require.Len(t, f.hist.captures, 1, "exchange is captured")
	assert.Equal(t, "sess-1", f.hist.captures[0][0])
}

func TestEmptyQuestionFailsFast(t *testing.T) {
	f := newFixture(t)
	f.state.UserInput = "   "

	res := f.pipe.Run(context.Background(), f.state)

	assert.Equal(t, models.RunFailure, res.Status)
	assert.Equal(t, models.ErrKindInvalidInput, res.ErrorKind)
	assert.Empty(t, f.db.executeCalls, "nothing executes on invalid input")
}

func TestUnknownBundleIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	f.state.AgentBundleRef = "missing"

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.ErrKindInvalidInput, res.ErrorKind)
}

func TestForeignAgentIsRejected(t *testing.T) {
	f := newFixture(t)
	f.state.UserID = "intruder"

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.RunFailure, res.Status)
	assert.Equal(t, models.ErrKindInvalidInput, res.ErrorKind)
}

func TestCacheHitShortCircuitsButStillCaptures(t *testing.T) {
	f := newFixture(t)

	first := f.pipe.Run(context.Background(), f.state)
	require.Equal(t, models.RunSuccess, first.Status)
	executesBefore := len(f.db.executeCalls)
	capturesBefore := len(f.hist.captures)

	// Identical question, fresh state.
	second := *f.state
	second.RunID = "run-2"
	res := f.pipe.Run(context.Background(), &second)

	require.Equal(t, models.RunSuccess, res.Status)
	assert.True(t, res.CacheHit)
	assert.Equal(t, first.SQLUsed, res.SQLUsed, "replayed SQL is identical")
	assert.Equal(t, first.FormattedResponse, res.FormattedResponse)
	assert.Len(t, f.db.executeCalls, executesBefore, "no database work on a hit")
	assert.Len(t, f.hist.captures, capturesBefore+1, "a hit still records the exchange")
}

func TestWhitespaceVariantHitsCache(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, models.RunSuccess, f.pipe.Run(context.Background(), f.state).Status)

	second := *f.state
	second.UserInput = "  HOW   many rows in orders?  "
	res := f.pipe.Run(context.Background(), &second)
	assert.True(t, res.CacheHit)
}

func TestSingleTableModeSkipsListTables(t *testing.T) {
	f := newFixture(t)
	f.agent.SingleTableMode = true
	f.agent.SelectedTable = "sales"
	f.model.sqlResponse = "```sql\nSELECT * FROM sales LIMIT 5\n```"

	res := f.pipe.Run(context.Background(), f.state)

	require.Equal(t, models.RunSuccess, res.Status)
	assert.Zero(t, f.db.listCalls, "prepare_context must not enumerate tables in single table mode")
	assert.Contains(t, res.SQLUsed, "sales")
}

func TestIncludedTablesFiltersSchema(t *testing.T) {
	f := newFixture(t)
	f.agent.IncludedTables = "ord*"

	res := f.pipe.Run(context.Background(), f.state)
	require.Equal(t, models.RunSuccess, res.Status)
	// Only orders survives the glob; customers never enters the snippet.
	assert.NotContains(t, f.state.SchemaSnippet, "customers")
	assert.Contains(t, f.state.SchemaSnippet, "orders")
}

func TestNoMatchingTablesIsSchemaError(t *testing.T) {
	f := newFixture(t)
	f.agent.IncludedTables = "nothing_matches_*"

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.ErrKindSchema, res.ErrorKind)
}

func TestCandidateTieBreakKeepsFirstExecutable(t *testing.T) {
	f := newFixture(t)
	f.model.sqlResponse = "```sql\nSELECT broken FROM nowhere\n```\n or \n```sql\nSELECT COUNT(*) FROM orders\n```"
	f.db.failStatements["SELECT broken FROM nowhere"] = errors.New("relation does not exist")

	res := f.pipe.Run(context.Background(), f.state)

	require.Equal(t, models.RunSuccess, res.Status)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", res.SQLUsed)
	assert.Equal(t, []string{"SELECT broken FROM nowhere", "SELECT COUNT(*) FROM orders"}, f.db.executeCalls)
}

func TestAllCandidatesFailingIsQueryError(t *testing.T) {
	f := newFixture(t)
	f.model.sqlResponse = "```sql\nSELECT broken FROM nowhere\n```"
	f.db.failStatements["SELECT broken FROM nowhere"] = errors.New("syntax error")

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.ErrKindQuery, res.ErrorKind)
}

func TestModelFailureIsModelError(t *testing.T) {
	f := newFixture(t)
	f.model.generateErr = errors.New("provider down")

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.ErrKindModel, res.ErrorKind)
}

func TestHistoryCaptureFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.hist.captureErr = errors.New("db gone")

	res := f.pipe.Run(context.Background(), f.state)
	assert.Equal(t, models.RunSuccess, res.Status, "history_capture is a soft node")
}

func TestHistoryDisabledSkipsRetrievalAndCapture(t *testing.T) {
	f := newFixture(t)
	f.hist.enabled = false

	res := f.pipe.Run(context.Background(), f.state)
	require.Equal(t, models.RunSuccess, res.Status)
	assert.Empty(t, f.hist.captures)
	assert.False(t, f.state.HasHistory)
}

func TestRelevantHistoryEntersState(t *testing.T) {
	f := newFixture(t)
	f.hist.relevant = []history.Scored{
		{Message: models.Message{Role: "user", Content: "top 5 customers by revenue"}, Source: history.SourceRecent, Score: 1.0},
	}

	res := f.pipe.Run(context.Background(), f.state)
	require.Equal(t, models.RunSuccess, res.Status)
	assert.True(t, f.state.HasHistory)
	assert.Contains(t, f.state.RelevantHistory, "top 5 customers by revenue")
}

func TestRefinementRewritesAnswer(t *testing.T) {
	f := newFixture(t)
	f.agent.RefinementEnabled = true

	res := f.pipe.Run(context.Background(), f.state)
	require.Equal(t, models.RunSuccess, res.Status)
	assert.Contains(t, res.FormattedResponse, "refined: There are 42 rows in orders.")
}

func TestSchemaVersionChangeMissesCache(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, models.RunSuccess, f.pipe.Run(context.Background(), f.state).Status)

	// Connection mutated: the bundle is rebuilt with a bumped version.
	f.reg.Drop(registry.CategoryAgentBundle, f.state.AgentBundleRef)
	f.state.AgentBundleRef = f.reg.Put(registry.CategoryAgentBundle, &Bundle{
		Agent: f.agent, Model: f.model, DB: f.db, ConnectionVersion: 2,
	})

	second := *f.state
	res := f.pipe.Run(context.Background(), &second)
	require.Equal(t, models.RunSuccess, res.Status)
	assert.False(t, res.CacheHit, "cached answers are never served across schema versions")
}
