package history

import (
	"fmt"
	"strings"
)

// Render produces the bounded text block injected into prompts. Messages
// from the current session appear under RECENT MESSAGES, everything else
// under SIMILAR CONVERSATIONS; each item carries timestamp, role, content
// and the SQL when present. maxItems bounds the total across both
// sections.
func Render(messages []Scored, maxItems int) string {
	if len(messages) == 0 {
		return ""
	}
	if maxItems > 0 && len(messages) > maxItems {
		messages = messages[:maxItems]
	}

	var recent, similar []Scored
	for _, m := range messages {
		switch m.Source {
		case SourceRecent, SourceLastInteraction:
			recent = append(recent, m)
		default:
			similar = append(similar, m)
		}
	}

	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("RECENT MESSAGES:\n")
		writeItems(&b, recent)
	}
	if len(similar) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("SIMILAR CONVERSATIONS:\n")
		writeItems(&b, similar)
	}
	return b.String()
}

func writeItems(b *strings.Builder, items []Scored) {
	for _, m := range items {
		fmt.Fprintf(b, "- [%s] %s: %s\n",
			m.CreatedAt.Format("2006-01-02 15:04"), m.Role, sanitizeLine(m.Content))
		if m.SQLQuery != "" {
			fmt.Fprintf(b, "  SQL: %s\n", sanitizeLine(m.SQLQuery))
		}
	}
}

// sanitizeLine collapses a possibly multi-line message into one prompt
// line, dropping fenced blocks and response decoration markers.
func sanitizeLine(text string) string {
	var parts []string
	inFence := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence || line == "" ||
			strings.HasPrefix(line, "---") || strings.HasPrefix(line, "⏱") {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
