package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/models"
)

func scoredMsg(id, role, content, source string, score float64, at time.Time) Scored {
	return Scored{
		Message: models.Message{ID: id, Role: role, Content: content, CreatedAt: at},
		Source:  source,
		Score:   score,
	}
}

func TestDedupeByMessageID(t *testing.T) {
	now := time.Now()
	in := []Scored{
		scoredMsg("m1", "user", "top 5 customers", SourceRecent, 1.0, now),
		scoredMsg("m1", "user", "top 5 customers", SourceSemantic, 0.9, now),
		scoredMsg("m2", "assistant", "here they are", SourceRecent, 1.0, now),
	}

	out := dedupeAndRank(in, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, SourceRecent, out[0].Source, "first occurrence wins")
}

func TestDedupeByContentWhenIDMissing(t *testing.T) {
	now := time.Now()
	in := []Scored{
		scoredMsg("", "user", "same question", SourceSemantic, 0.8, now),
		scoredMsg("", "user", "same question", SourceLexical, 0.4, now),
	}
	out := dedupeAndRank(in, 10)
	assert.Len(t, out, 1)
}

func TestRankOrdersByScoreThenRecency(t *testing.T) {
	now := time.Now()
	in := []Scored{
		scoredMsg("old", "user", "a", SourceSemantic, 0.8, now.Add(-2*time.Hour)),
		scoredMsg("new", "user", "b", SourceSemantic, 0.8, now),
		scoredMsg("best", "user", "c", SourceLastInteraction, 1.1, now.Add(-3*time.Hour)),
	}
	out := dedupeAndRank(in, 10)
	require.Len(t, out, 3)
	assert.Equal(t, "best", out[0].ID, "last interaction outranks everything")
	assert.Equal(t, "new", out[1].ID, "ties break by recency")
	assert.Equal(t, "old", out[2].ID)
}

func TestRankCapsAtLimit(t *testing.T) {
	now := time.Now()
	var in []Scored
	for i := 0; i < 30; i++ {
		in = append(in, scoredMsg(string(rune('a'+i)), "user", string(rune('a'+i)), SourceRecent, 1.0, now))
	}
	out := dedupeAndRank(in, 15)
	assert.Len(t, out, 15)
}

func TestRankLexicalScoresByTokenOverlap(t *testing.T) {
	msgs := []models.Message{
		{ID: "m1", Role: "user", Content: "top 5 customers by revenue"},
		{ID: "m2", Role: "user", Content: "total orders yesterday"},
		{ID: "m3", Role: "user", Content: "customers with revenue above average"},
	}

	out := rankLexical(msgs, "customers ranked by revenue", 5)
	require.Len(t, out, 2, "messages with zero overlap are excluded")
	assert.Equal(t, "m1", out[0].ID)
	for _, m := range out {
		assert.Equal(t, SourceLexical, m.Source)
		assert.LessOrEqual(t, m.Score, 0.5, "lexical never outranks semantic")
	}
}

func TestRankLexicalEmptyQuery(t *testing.T) {
	msgs := []models.Message{{ID: "m1", Content: "anything"}}
	assert.Empty(t, rankLexical(msgs, "", 5))
	assert.Empty(t, rankLexical(msgs, "a an", 5), "short tokens alone yield no query tokens")
}

func TestTokeniseStripsPunctuationAndShortTokens(t *testing.T) {
	toks := tokenise("Show the 'top' customers, by revenue!")
	assert.True(t, toks["top"])
	assert.True(t, toks["customers"])
	assert.True(t, toks["revenue"])
	assert.False(t, toks["by"])
}
