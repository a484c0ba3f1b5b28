// Package pipeline drives one question through the node graph: validate →
// cache lookup → history retrieval → context preparation → SQL generation
// and execution → response formatting → history capture → cache store.
// Nodes communicate through a shared serialisable state bag; anything
// non-serialisable is referenced by an opaque registry id and resolved
// inside the worker process executing the run.
package pipeline

import (
	"github.com/raki39/frontgraph/pkg/models"
)

// State is the shared bag the nodes operate on. It crosses the job
// boundary as JSON, so it carries only values and registry ids — never
// live engines, model clients or cache managers.
type State struct {
	UserInput     string `json:"user_input"`
	UserID        string `json:"user_id"`
	AgentID       string `json:"agent_id"`
	RunID         string `json:"run_id,omitempty"`
	ChatSessionID string `json:"chat_session_id,omitempty"`

	ConnectionKind string `json:"connection_kind,omitempty"`
	ConnectionID   string `json:"connection_id,omitempty"`
	EngineRef      string `json:"engine_ref,omitempty"`
	AgentBundleRef string `json:"agent_bundle_ref,omitempty"`
	CacheRef       string `json:"cache_ref,omitempty"`
	HistoryRef     string `json:"history_ref,omitempty"`

	RelevantHistory string `json:"relevant_history,omitempty"`
	HasHistory      bool   `json:"has_history"`

	SchemaSnippet string `json:"schema_snippet,omitempty"`
	SampleRows    string `json:"sample_rows,omitempty"`

	SQLQuery       string `json:"sql_query,omitempty"`
	ResultRowCount int    `json:"result_row_count,omitempty"`
	ExecutionMS    int64  `json:"execution_ms,omitempty"`
	ResultData     string `json:"result_data,omitempty"`

	Answer            string `json:"answer,omitempty"`
	FormattedResponse string `json:"formatted_response,omitempty"`

	ErrorKind    models.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	CacheHit bool `json:"cache_hit"`

	// Derived per run, not serialised.
	fingerprint   string
	schemaVersion string
}

// outcomeTag discriminates node outcomes.
type outcomeTag int

const (
	tagContinue outcomeTag = iota
	tagSkip
	tagFail
)

// Outcome is the tagged result of one node: Continue to the next edge,
// Skip the node's effect, or Fail the run with a classified error. The
// dispatcher inspects the tag; soft nodes are expected to return Continue
// or Skip even when their work failed internally.
type Outcome struct {
	tag     outcomeTag
	Kind    models.ErrorKind
	Message string
}

// Continue proceeds along the graph's default edge.
func Continue() Outcome { return Outcome{tag: tagContinue} }

// Skip records that the node chose not to act (disabled flag, cache miss
// precondition, swallowed soft failure).
func Skip() Outcome { return Outcome{tag: tagSkip} }

// Fail aborts the run with a classified error. Only fatal nodes may
// return it.
func Fail(kind models.ErrorKind, message string) Outcome {
	return Outcome{tag: tagFail, Kind: kind, Message: message}
}

// Failed reports whether the outcome aborts the run.
func (o Outcome) Failed() bool { return o.tag == tagFail }

// Skipped reports whether the node declined to act.
func (o Outcome) Skipped() bool { return o.tag == tagSkip }
