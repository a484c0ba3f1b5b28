package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/models"
)

type fakeRuns struct {
	runs map[string]*models.Run
}

func (f *fakeRuns) Get(_ context.Context, _, runID string) (*models.Run, error) {
	if r, ok := f.runs[runID]; ok {
		return r, nil
	}
	return nil, errors.New("entity not found")
}

type fakeJudge struct {
	reply string
	err   error
}

func (f *fakeJudge) GenerateWithSystem(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func TestParseVerdict(t *testing.T) {
	score, err := ParseVerdict("SCORE: 8.5\nVERDICT: correct\nRATIONALE: counts match the question.")
	require.NoError(t, err)
	assert.Equal(t, 8.5, score.Score)
	assert.Equal(t, "correct", score.Verdict)
	assert.Equal(t, "counts match the question.", score.Rationale)
}

func TestParseVerdictClampsRange(t *testing.T) {
	score, err := ParseVerdict("SCORE: 15\nVERDICT: correct")
	require.NoError(t, err)
	assert.Equal(t, 10.0, score.Score)
}

func TestParseVerdictRejectsUnstructuredReply(t *testing.T) {
	_, err := ParseVerdict("looks fine to me")
	assert.Error(t, err)
}

func TestScoreRunHappyPath(t *testing.T) {
	h := NewHarness(
		&fakeRuns{runs: map[string]*models.Run{
			"r1": {ID: "r1", Status: models.RunSuccess, Question: "how many orders?", SQLUsed: "SELECT COUNT(*) FROM orders"},
		}},
		&fakeJudge{reply: "SCORE: 9\nVERDICT: correct\nRATIONALE: good."},
	)

	score, err := h.ScoreRun(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", score.RunID)
	assert.Equal(t, 9.0, score.Score)
}

func TestScoreRunRejectsNonTerminalRuns(t *testing.T) {
	h := NewHarness(
		&fakeRuns{runs: map[string]*models.Run{
			"r1": {ID: "r1", Status: models.RunRunning},
			"r2": {ID: "r2", Status: models.RunFailure},
		}},
		&fakeJudge{reply: "SCORE: 9"},
	)

	_, err := h.ScoreRun(context.Background(), "u1", "r1")
	assert.Error(t, err)
	_, err = h.ScoreRun(context.Background(), "u1", "r2")
	assert.Error(t, err)
}

func TestScoreRunsContinuesPastFailures(t *testing.T) {
	h := NewHarness(
		&fakeRuns{runs: map[string]*models.Run{
			"ok": {ID: "ok", Status: models.RunSuccess, Question: "q", SQLUsed: "SELECT 1"},
		}},
		&fakeJudge{reply: "SCORE: 7\nVERDICT: partially_correct"},
	)

	scores := h.ScoreRuns(context.Background(), "u1", []string{"ok", "missing"})
	require.Len(t, scores, 2)
	assert.Empty(t, scores[0].Error)
	assert.Equal(t, 7.0, scores[0].Score)
	assert.NotEmpty(t, scores[1].Error)
}
