// Package tournament runs the convergent-evolution tournament for a code
// task: N independent competitors implement the task in isolated worktrees,
// their changed-file sets are analysed for convergence, and a winner is
// chosen by synthesis, judging, or a score-then-cost fallback. On success
// the winning subtree is applied to the main tree; on failure the main tree
// is untouched.
package tournament

import (
	"context"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/verify"
)

// Invoker is the slice of the LLM adapter the engine consumes.
type Invoker interface {
	Invoke(ctx context.Context, label string, req llm.Request) (*llm.Response, error)
}

// codeTools is the tool set competitors, the synthesiser and the fixer get:
// full codebase exploration and editing.
var codeTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"}

// SynthesisWinner is the strategy label recorded when synthesis wins.
const SynthesisWinner = "synthesis"

// CompetitorResult is the outcome of one competitor's attempt.
type CompetitorResult struct {
	ID           string         `json:"id"`
	Strategy     string         `json:"strategy"`
	Implemented  bool           `json:"implemented"`
	Score        int            `json:"score"`
	Verification *verify.Result `json:"verification,omitempty"`
	ChangedFiles []string       `json:"changed_files,omitempty"`
	Diff         string         `json:"-"`
	DiffLines    int            `json:"diff_lines"`
	Cost         float64        `json:"cost"`
	Error        string         `json:"error,omitempty"`
}

// Convergence is the file-level convergence analysis across successful
// competitors.
type Convergence struct {
	Ratio       float64  `json:"ratio"`
	CommonFiles []string `json:"common_files"`
	UnionFiles  []string `json:"union_files"`
}

// Synthesis records the synthesis attempt, when one was made.
type Synthesis struct {
	Attempted           bool     `json:"attempted"`
	Viable              bool     `json:"viable"`
	Succeeded           bool     `json:"succeeded"`
	Fallback            bool     `json:"fallback"` // true when synthesis lost and selection fell through
	Rationale           string   `json:"rationale,omitempty"`
	ConvergentPatterns  []string `json:"convergent_patterns,omitempty"`
	DivergentApproaches []string `json:"divergent_approaches,omitempty"`
	Score               int      `json:"score"`
}

// Result is what a finished tournament reports.
type Result struct {
	TaskID         string             `json:"task_id"`
	WinnerID       string             `json:"winner_id"`
	WinnerStrategy string             `json:"winner_strategy"`
	Competitors    []CompetitorResult `json:"competitors"`
	Convergence    *Convergence       `json:"convergence,omitempty"`
	JudgeRationale string             `json:"judge_rationale,omitempty"`
	Synthesis      *Synthesis         `json:"synthesis,omitempty"`
	TotalCost      float64            `json:"total_cost"`
}

// Metrics folds a Result into the once-written tournament metrics record.
func (r *Result) Metrics() task.TournamentMetrics {
	m := task.TournamentMetrics{
		Competitors:    len(r.Competitors),
		WinnerStrategy: r.WinnerStrategy,
	}

	minScore, maxScore := -1, 0
	var winnerDiffLines int
	for _, c := range r.Competitors {
		if c.Implemented {
			m.Implemented++
		}
		if c.Verification != nil && c.Verification.Passed() && c.Implemented {
			m.Verified++
		}
		if c.Implemented {
			if minScore < 0 || c.Score < minScore {
				minScore = c.Score
			}
			if c.Score > maxScore {
				maxScore = c.Score
			}
		}
		if c.ID == r.WinnerID {
			m.WinnerScore = c.Score
			winnerDiffLines = c.DiffLines
		}
	}
	if minScore >= 0 {
		m.ScoreSpread = maxScore - minScore
	}
	m.WinnerDiffLines = winnerDiffLines

	if r.Convergence != nil {
		m.ConvergenceRatio = r.Convergence.Ratio
	}
	if r.Synthesis != nil {
		m.SynthesisAttempted = r.Synthesis.Attempted
		m.SynthesisSucceeded = r.Synthesis.Succeeded
		m.SynthesisFallback = r.Synthesis.Fallback
		m.SynthesisRationale = r.Synthesis.Rationale
		m.ConvergentPatterns = r.Synthesis.ConvergentPatterns
		if r.Synthesis.Succeeded {
			m.WinnerScore = r.Synthesis.Score
		}
	}
	return m
}

// CompetitorCount maps task complexity to the number of competitors.
func CompetitorCount(c task.Complexity, maxCompetitors int) int {
	if maxCompetitors < 1 {
		maxCompetitors = 1
	}
	switch c {
	case task.ComplexityTrivial:
		return 1
	case task.ComplexityStandard:
		if maxCompetitors < 2 {
			return maxCompetitors
		}
		return 2
	default:
		return maxCompetitors
	}
}
