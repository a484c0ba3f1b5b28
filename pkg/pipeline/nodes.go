package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/raki39/frontgraph/pkg/cache"
	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/models"
)

// Context preparation bounds: how many tables are described and how many
// sample rows accompany the schema snippet.
const (
	maxDescribedTables = 25
	sampleRowCount     = 10
)

// validateInput is fatal: non-empty question and a resolvable bundle whose
// agent belongs to the requesting user.
func (p *Pipeline) validateInput(_ context.Context, st *State) Outcome {
	if strings.TrimSpace(st.UserInput) == "" {
		return Fail(models.ErrKindInvalidInput, "question must not be empty")
	}
	b, err := p.bundle(st)
	if err != nil {
		return Fail(models.ErrKindInvalidInput, "unknown agent")
	}
	if b.Agent.OwnerUserID != st.UserID {
		return Fail(models.ErrKindInvalidInput, "agent does not belong to user")
	}
	return Continue()
}

// checkCache is soft: a lookup failure is a miss. On a hit the prior
// formatted response and SQL are replayed into the state.
func (p *Pipeline) checkCache(_ context.Context, st *State) Outcome {
	b, err := p.bundle(st)
	if err != nil {
		return Fail(models.ErrKindInternal, err.Error())
	}
	st.schemaVersion = fmt.Sprintf("%s:%d", b.Agent.ConnectionID, b.ConnectionVersion)
	st.fingerprint = cache.Fingerprint(st.UserInput, st.AgentID, st.schemaVersion)

	if p.cache == nil {
		return Skip()
	}
	ans, ok := p.cache.Get(st.AgentID, st.fingerprint)
	if !ok {
		return Skip()
	}
	st.CacheHit = true
	st.FormattedResponse = ans.FormattedResponse
	st.Answer = ans.FormattedResponse
	st.SQLQuery = ans.SQLQuery
	slog.Info("Cache hit", "run_id", st.RunID, "agent_id", st.AgentID)
	return Continue()
}

// historyRetrieve is soft: any failure leaves relevant_history empty and
// has_history false.
func (p *Pipeline) historyRetrieve(ctx context.Context, st *State) Outcome {
	st.RelevantHistory = ""
	st.HasHistory = false

	h := p.historyService(st)
	if h == nil || !h.Enabled() || st.ChatSessionID == "" {
		return Skip()
	}

	b, err := p.bundle(st)
	if err != nil {
		return Skip()
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	scored := h.Relevant(retrieveCtx, st.UserID, st.AgentID, st.ChatSessionID, st.UserInput, b.Agent.TopK)
	if len(scored) == 0 {
		return Skip()
	}
	st.RelevantHistory = renderHistory(scored)
	st.HasHistory = st.RelevantHistory != ""
	return Continue()
}

// prepareContext is fatal: without schema knowledge the run cannot
// continue. In single-table mode ListTables is never called — only the
// selected table is described.
func (p *Pipeline) prepareContext(ctx context.Context, st *State) Outcome {
	b, err := p.bundle(st)
	if err != nil {
		return Fail(models.ErrKindInternal, err.Error())
	}
	agent := b.Agent
	st.ConnectionKind = b.DB.Dialect()
	st.ConnectionID = agent.ConnectionID

	var tables []string
	if agent.SingleTableMode {
		if agent.SelectedTable == "" {
			return Fail(models.ErrKindSchema, "single table mode without a selected table")
		}
		tables = []string{agent.SelectedTable}
	} else {
		listed, err := b.DB.ListTables(ctx)
		if err != nil {
			return Fail(models.ErrKindSchema, "list tables: "+err.Error())
		}
		tables = filterTables(listed, agent.IncludedTables)
		if len(tables) == 0 {
			return Fail(models.ErrKindSchema, "no tables match the agent's included_tables")
		}
	}
	if len(tables) > maxDescribedTables {
		tables = tables[:maxDescribedTables]
	}

	var schema strings.Builder
	for _, table := range tables {
		cols, err := b.DB.Columns(ctx, table)
		if err != nil {
			return Fail(models.ErrKindSchema, fmt.Sprintf("columns of %s: %s", table, err))
		}
		fmt.Fprintf(&schema, "TABLE %s (", table)
		for i, c := range cols {
			if i > 0 {
				schema.WriteString(", ")
			}
			fmt.Fprintf(&schema, "%s %s", c.Name, c.Type)
		}
		schema.WriteString(")\n")
	}
	st.SchemaSnippet = schema.String()

	// A small sample of the first table anchors the model on real values.
	sample, err := b.DB.Sample(ctx, tables[0], sampleRowCount)
	if err != nil {
		return Fail(models.ErrKindSchema, fmt.Sprintf("sample of %s: %s", tables[0], err))
	}
	st.SampleRows = renderRows(tables[0], sample)

	return Continue()
}

// processInitialContext is soft and gated by the agent's processing flag:
// an auxiliary LLM call condenses the table list and question into a
// focused schema hint appended to the prompt.
func (p *Pipeline) processInitialContext(ctx context.Context, st *State) Outcome {
	b, err := p.bundle(st)
	if err != nil || !b.Agent.ProcessingEnabled {
		return Skip()
	}

	hint, err := b.Model.GenerateWithSystem(ctx, processingSystemPrompt,
		fmt.Sprintf("Schema:\n%s\nQuestion: %s", st.SchemaSnippet, st.UserInput))
	if err != nil {
		slog.Warn("Initial context processing failed", "run_id", st.RunID, "error", err)
		return Skip()
	}
	if hint = strings.TrimSpace(hint); hint != "" {
		st.SchemaSnippet += "\nFOCUS:\n" + hint + "\n"
	}
	return Continue()
}

// processQuery is fatal and the core of the pipeline: generate candidate
// SQL, execute the first candidate that runs cleanly, then compose the
// narrative answer over the result preview.
func (p *Pipeline) processQuery(ctx context.Context, st *State) Outcome {
	b, err := p.bundle(st)
	if err != nil {
		return Fail(models.ErrKindInternal, err.Error())
	}

	raw, err := b.Model.GenerateWithSystem(ctx, sqlSystemPrompt(b.DB.Dialect()), sqlUserPrompt(st))
	if err != nil {
		return Fail(models.ErrKindModel, "sql generation: "+err.Error())
	}

	candidates := ExtractSQLCandidates(raw)
	if len(candidates) == 0 {
		return Fail(models.ErrKindModel, "model produced no SQL statement")
	}

	// Tie-break: the first candidate that executes without error wins.
	// The row cap is the agent's top_k unless the query itself asks for
	// more via an explicit LIMIT.
	var rows *engine.Rows
	var used string
	var execErr error
	start := time.Now()
	for _, candidate := range candidates {
		limit := b.Agent.TopK
		if HasExplicitLimit(candidate) {
			limit = p.maxRows
		}
		rows, execErr = b.DB.Execute(ctx, candidate, limit)
		if execErr == nil {
			used = candidate
			break
		}
	}
	if execErr != nil {
		return Fail(models.ErrKindQuery, "all candidate queries failed: "+execErr.Error())
	}
	st.ExecutionMS = time.Since(start).Milliseconds()
	st.SQLQuery = used
	st.ResultRowCount = len(rows.Rows)

	data, err := json.Marshal(rows)
	if err != nil {
		return Fail(models.ErrKindInternal, "marshal result: "+err.Error())
	}
	st.ResultData = string(data)

	answer, err := b.Model.GenerateWithSystem(ctx, answerSystemPrompt,
		answerUserPrompt(st.UserInput, used, rows))
	if err != nil {
		return Fail(models.ErrKindModel, "answer composition: "+err.Error())
	}
	st.Answer = strings.TrimSpace(answer)
	return Continue()
}

// refineResponse is soft and gated by the agent's refinement flag: a
// second pass rewrites the answer for clarity.
func (p *Pipeline) refineResponse(ctx context.Context, st *State) Outcome {
	b, err := p.bundle(st)
	if err != nil || !b.Agent.RefinementEnabled {
		return Skip()
	}

	refined, err := b.Model.GenerateWithSystem(ctx, refineSystemPrompt,
		fmt.Sprintf("Question: %s\n\nAnswer to refine:\n%s", st.UserInput, st.Answer))
	if err != nil {
		slog.Warn("Refinement failed, keeping original answer", "run_id", st.RunID, "error", err)
		return Skip()
	}
	if refined = strings.TrimSpace(refined); refined != "" {
		st.Answer = refined
	}
	return Continue()
}

// formatResponse is deterministic: narrative, fenced SQL block, metadata
// markers. The UI parses this back, so the shape must stay stable.
func (p *Pipeline) formatResponse(st *State) {
	st.FormattedResponse = FormatResponse(st.Answer, st.SQLQuery, st.ExecutionMS, st.ResultRowCount)
}

// historyCapture is soft: its failure logs a warning and never fails the
// run.
func (p *Pipeline) historyCapture(ctx context.Context, st *State) Outcome {
	h := p.historyService(st)
	if h == nil || !h.Enabled() || st.ChatSessionID == "" {
		return Skip()
	}

	response := st.FormattedResponse
	if response == "" {
		response = st.Answer
	}
	if _, _, err := h.Capture(ctx, st.ChatSessionID, st.RunID, st.UserInput, response, st.SQLQuery); err != nil {
		slog.Warn("History capture failed", "run_id", st.RunID, "chat_session_id", st.ChatSessionID, "error", err)
		return Skip()
	}
	return Continue()
}

// cacheStore is soft and best-effort.
func (p *Pipeline) cacheStore(st *State) Outcome {
	if p.cache == nil || st.fingerprint == "" || st.FormattedResponse == "" {
		return Skip()
	}
	p.cache.Put(st.AgentID, st.fingerprint, cache.Answer{
		FormattedResponse: st.FormattedResponse,
		SQLQuery:          st.SQLQuery,
	})
	return Continue()
}

// filterTables honours the agent's included_tables: "*" keeps everything,
// otherwise a comma-separated list of names or glob patterns.
func filterTables(tables []string, included string) []string {
	included = strings.TrimSpace(included)
	if included == "" || included == "*" {
		return tables
	}
	patterns := strings.Split(included, ",")
	var out []string
	for _, table := range tables {
		for _, pat := range patterns {
			pat = strings.TrimSpace(pat)
			if pat == "" {
				continue
			}
			if ok, err := path.Match(pat, table); err == nil && ok {
				out = append(out, table)
				break
			}
		}
	}
	return out
}

// renderRows formats a bounded result preview for prompts.
func renderRows(table string, rows *engine.Rows) string {
	if rows == nil || len(rows.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SAMPLE OF %s:\n%s\n", table, strings.Join(rows.Columns, " | "))
	for _, row := range rows.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
