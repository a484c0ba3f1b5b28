package pipeline

import (
	"regexp"
	"strings"
)

// Candidate extraction mirrors how assistants actually emit SQL: fenced
// ```sql blocks first, then bare fenced blocks opening with SELECT/WITH,
// then, only when no fenced block yielded a candidate, unfenced
// SELECT/WITH statements. Within each kind the order of appearance is
// preserved — the executor keeps the first candidate that runs cleanly.
var (
	fencedSQLRe  = regexp.MustCompile("(?is)```sql\\s*(.*?)\\s*```")
	fencedBareRe = regexp.MustCompile("(?is)```\\s*((?:SELECT|WITH)\\b.*?)\\s*```")
	inlineSQLRe  = regexp.MustCompile(`(?is)\b((?:SELECT|WITH)\b[^;]+;?)`)
	limitRe      = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
)

// ExtractSQLCandidates returns candidate statements in the order described
// above, deduplicated, with trailing semicolons trimmed.
func ExtractSQLCandidates(text string) []string {
	var candidates []string
	seen := make(map[string]bool)

	add := func(stmt string) {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt == "" || seen[stmt] {
			return
		}
		if !isQueryStatement(stmt) {
			return
		}
		seen[stmt] = true
		candidates = append(candidates, stmt)
	}

	for _, m := range fencedSQLRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range fencedBareRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	// Only scan outside fences for inline statements, otherwise fenced
	// queries would be re-extracted with surrounding prose.
	if len(candidates) == 0 {
		stripped := fencedSQLRe.ReplaceAllString(text, " ")
		stripped = fencedBareRe.ReplaceAllString(stripped, " ")
		for _, m := range inlineSQLRe.FindAllStringSubmatch(stripped, -1) {
			add(m[1])
		}
	}
	return candidates
}

// isQueryStatement keeps only read statements; the pipeline never executes
// mutations emitted by a confused model.
func isQueryStatement(stmt string) bool {
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// HasExplicitLimit reports whether the query itself carries a LIMIT
// clause, in which case the agent's top_k row cap is not applied on top.
func HasExplicitLimit(stmt string) bool {
	return limitRe.MatchString(stmt)
}
