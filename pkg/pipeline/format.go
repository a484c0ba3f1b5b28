package pipeline

import (
	"fmt"
	"strings"

	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/history"
)

// System prompts for the LLM calls the pipeline makes.
const (
	sqlSystemPromptTemplate = `You are an expert %s SQL generator. Given a database schema, sample rows and a question, respond with a single SQL query inside a fenced sql block. Use only tables and columns present in the schema. Never modify data.`

	processingSystemPrompt = `You condense database schemas. Given a schema and a question, reply with a short hint naming only the tables and columns relevant to the question. Reply with the hint text only.`

	answerSystemPrompt = `You are a data analyst. Given a question, the SQL that was executed and its result rows, write a concise answer in the user's language. State the concrete numbers from the results. Do not repeat the SQL.`

	refineSystemPrompt = `You rewrite data analysis answers for clarity. Keep every fact and number intact; improve only wording and structure. Reply with the rewritten answer only.`
)

func sqlSystemPrompt(dialect string) string {
	return fmt.Sprintf(sqlSystemPromptTemplate, dialect)
}

func sqlUserPrompt(st *State) string {
	var b strings.Builder
	b.WriteString("SCHEMA:\n")
	b.WriteString(st.SchemaSnippet)
	if st.SampleRows != "" {
		b.WriteString("\n")
		b.WriteString(st.SampleRows)
	}
	if st.HasHistory {
		b.WriteString("\nCONVERSATION CONTEXT:\n")
		b.WriteString(st.RelevantHistory)
	}
	b.WriteString("\nQUESTION: ")
	b.WriteString(st.UserInput)
	return b.String()
}

func answerUserPrompt(question, sqlUsed string, rows *engine.Rows) string {
	return fmt.Sprintf("Question: %s\n\nExecuted SQL:\n%s\n\nResults:\n%s",
		question, sqlUsed, renderRows("results", rows))
}

func renderHistory(scored []history.Scored) string {
	return history.Render(scored, 0)
}

// Response template markers. The UI splits the narrative from the SQL on
// these exact strings, so they are part of the external contract.
const (
	sqlSectionMarker = "**Query SQL Utilizada:**"
	metadataMarker   = "⏱ Tempo de execução:"
)

// FormatResponse renders the stable response template: narrative answer,
// fenced SQL block, metadata markers with execution time and row count.
func FormatResponse(answer, sqlQuery string, executionMS int64, rowCount int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer))
	if sqlQuery != "" {
		fmt.Fprintf(&b, "\n\n%s\n```sql\n%s\n```", sqlSectionMarker, strings.TrimSpace(sqlQuery))
	}
	fmt.Fprintf(&b, "\n\n---\n%s %.2fs | Linhas retornadas: %d",
		metadataMarker, float64(executionMS)/1000.0, rowCount)
	return b.String()
}
