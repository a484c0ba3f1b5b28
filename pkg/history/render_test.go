package history

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/models"
)

func TestRenderEmptyInput(t *testing.T) {
	assert.Equal(t, "", Render(nil, 15))
}

func TestRenderSplitsSections(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	msgs := []Scored{
		{Message: models.Message{Role: "user", Content: "top 5 customers", CreatedAt: at}, Source: SourceRecent, Score: 1.0},
		{Message: models.Message{Role: "assistant", Content: "here they are", SQLQuery: "SELECT * FROM customers LIMIT 5", CreatedAt: at}, Source: SourceRecent, Score: 1.0},
		{Message: models.Message{Role: "user", Content: "revenue by month", CreatedAt: at}, Source: SourceSemantic, Score: 0.9},
	}

	out := Render(msgs, 15)

	require.Contains(t, out, "RECENT MESSAGES:")
	require.Contains(t, out, "SIMILAR CONVERSATIONS:")
	assert.Less(t, strings.Index(out, "RECENT MESSAGES:"), strings.Index(out, "SIMILAR CONVERSATIONS:"))
	assert.Contains(t, out, "[2025-03-01 10:30] user: top 5 customers")
	assert.Contains(t, out, "SQL: SELECT * FROM customers LIMIT 5")
}

func TestRenderBoundsTotalItems(t *testing.T) {
	at := time.Now()
	var msgs []Scored
	for i := 0; i < 40; i++ {
		msgs = append(msgs, Scored{
			Message: models.Message{Role: "user", Content: "q", CreatedAt: at},
			Source:  SourceRecent, Score: 1.0,
		})
	}
	out := Render(msgs, 15)
	assert.Equal(t, 15, strings.Count(out, "- ["))
}

func TestRenderLastInteractionGoesToRecentSection(t *testing.T) {
	at := time.Now()
	msgs := []Scored{
		{Message: models.Message{Role: "user", Content: "and by volume?", CreatedAt: at}, Source: SourceLastInteraction, Score: 1.1},
	}
	out := Render(msgs, 15)
	assert.Contains(t, out, "RECENT MESSAGES:")
	assert.NotContains(t, out, "SIMILAR CONVERSATIONS:")
}

func TestSanitizeLineDropsDecoration(t *testing.T) {
	text := "The answer is 42.\n```sql\nSELECT 1\n```\n---\n⏱ Tempo de execução: 1.00s"
	assert.Equal(t, "The answer is 42.", sanitizeLine(text))
}

func TestSanitizeLineCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", sanitizeLine("  a\n\n b\r\n   c "))
}
