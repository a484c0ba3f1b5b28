package history

import (
	"sort"
	"strings"

	"github.com/raki39/frontgraph/pkg/models"
)

// dedupeAndRank removes duplicate messages and orders the survivors by
// relevance score, breaking ties by recency. Duplicates are detected by
// message id when present, otherwise by (role, first 100 chars of
// content) — vector and recent-window results can surface the same
// message through different paths.
func dedupeAndRank(messages []Scored, limit int) []Scored {
	if limit <= 0 {
		limit = len(messages)
	}

	seen := make(map[string]bool, len(messages))
	unique := make([]Scored, 0, len(messages))
	for _, m := range messages {
		key := m.ID
		if key == "" {
			content := m.Content
			if len(content) > 100 {
				content = content[:100]
			}
			key = m.Role + ":" + content
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, m)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].Score != unique[j].Score {
			return unique[i].Score > unique[j].Score
		}
		return unique[i].CreatedAt.After(unique[j].CreatedAt)
	})

	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// rankLexical scores messages by token overlap with the query and returns
// the top limit matches. Tokens shorter than 3 bytes are skipped so stop
// words do not dominate.
func rankLexical(msgs []models.Message, queryText string, limit int) []Scored {
	queryTokens := tokenise(queryText)
	if len(queryTokens) == 0 {
		return nil
	}

	var scored []Scored
	for _, m := range msgs {
		overlap := overlapCount(queryTokens, tokenise(m.Content))
		if overlap == 0 {
			continue
		}
		// Cap lexical scores at 0.5 so they never outrank semantic or
		// recent-session results.
		score := 0.5 * float64(overlap) / float64(len(queryTokens))
		scored = append(scored, Scored{Message: m, Source: SourceLexical, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func tokenise(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) < 3 {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}

func overlapCount(a, b map[string]bool) int {
	n := 0
	for tok := range a {
		if b[tok] {
			n++
		}
	}
	return n
}
