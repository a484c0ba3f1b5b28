// Package validation scores terminal runs with a secondary judge model.
// Scoring is on-demand and optional: nothing in the execution path depends
// on it, and results are returned to the caller, never persisted.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/raki39/frontgraph/pkg/models"
)

// RunReader loads runs on behalf of the harness.
type RunReader interface {
	Get(ctx context.Context, userID, runID string) (*models.Run, error)
}

// Judge is the secondary model that grades answers.
type Judge interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Score is the judge's verdict on one run.
type Score struct {
	RunID     string  `json:"run_id"`
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Rationale string  `json:"rationale"`
	Error     string  `json:"error,omitempty"`
}

const judgeSystemPrompt = `You grade natural-language-to-SQL answers. Given a question, the executed SQL and the answer given to the user, judge whether the SQL plausibly answers the question and the answer is consistent with it.
Reply in exactly this format:
SCORE: <0-10>
VERDICT: <correct|partially_correct|incorrect>
RATIONALE: <one or two sentences>`

var (
	scoreRe   = regexp.MustCompile(`(?im)^SCORE:\s*([0-9]+(?:\.[0-9]+)?)`)
	verdictRe = regexp.MustCompile(`(?im)^VERDICT:\s*(\S+)`)
	rationRe  = regexp.MustCompile(`(?im)^RATIONALE:\s*(.+)$`)
)

// Harness evaluates runs against the judge model.
type Harness struct {
	runs  RunReader
	judge Judge
}

// NewHarness creates a validation harness.
func NewHarness(runs RunReader, judge Judge) *Harness {
	return &Harness{runs: runs, judge: judge}
}

// ScoreRun grades one terminal run. Non-terminal and failed runs are
// rejected — there is nothing to judge yet.
func (h *Harness) ScoreRun(ctx context.Context, userID, runID string) (*Score, error) {
	run, err := h.runs.Get(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunSuccess {
		return nil, fmt.Errorf("run %s is not a successful terminal run (status %s)", runID, run.Status)
	}

	prompt := fmt.Sprintf("Question: %s\n\nExecuted SQL:\n%s\n\nAnswer:\n%s",
		run.Question, run.SQLUsed, run.ResultData)

	raw, err := h.judge.GenerateWithSystem(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}

	score, err := ParseVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("judge output: %w", err)
	}
	score.RunID = runID
	return score, nil
}

// ScoreRuns grades many runs, continuing past individual failures; each
// failed evaluation carries its error in place of a verdict.
func (h *Harness) ScoreRuns(ctx context.Context, userID string, runIDs []string) []*Score {
	out := make([]*Score, 0, len(runIDs))
	for _, id := range runIDs {
		score, err := h.ScoreRun(ctx, userID, id)
		if err != nil {
			slog.Warn("Run scoring failed", "run_id", id, "error", err)
			out = append(out, &Score{RunID: id, Error: err.Error()})
			continue
		}
		out = append(out, score)
	}
	return out
}

// ParseVerdict extracts the structured verdict from the judge's reply.
func ParseVerdict(raw string) (*Score, error) {
	m := scoreRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("no SCORE line in %q", truncate(raw, 120))
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad score %q", m[1])
	}
	if value < 0 {
		value = 0
	}
	if value > 10 {
		value = 10
	}

	score := &Score{Score: value}
	if m := verdictRe.FindStringSubmatch(raw); m != nil {
		score.Verdict = strings.ToLower(m[1])
	}
	if m := rationRe.FindStringSubmatch(raw); m != nil {
		score.Rationale = strings.TrimSpace(m[1])
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
