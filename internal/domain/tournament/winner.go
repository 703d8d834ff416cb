package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/prompt"
)

// selection identifies the winning implementation.
type selection struct {
	id       string
	strategy string
}

// sourceTree is the subtree the apply step copies from.
type sourceTree struct {
	dir          string
	changedFiles []string
}

// convergenceVerdict is the structured output of the semantic
// convergence-analysis call.
type convergenceVerdict struct {
	ConvergentPatterns  []string `json:"convergent_patterns"`
	DivergentApproaches []string `json:"divergent_approaches"`
	SynthesisViable     bool     `json:"synthesis_viable"`
}

var convergenceSchema = json.RawMessage(`{
  "type": "object",
  "required": ["convergent_patterns", "divergent_approaches", "synthesis_viable"],
  "properties": {
    "convergent_patterns": {"type": "array", "items": {"type": "string"}},
    "divergent_approaches": {"type": "array", "items": {"type": "string"}},
    "synthesis_viable": {"type": "boolean"}
  }
}`)

var judgeSchema = json.RawMessage(`{
  "type": "object",
  "required": ["winner", "rationale"],
  "properties": {
    "winner": {"type": "string"},
    "rationale": {"type": "string"}
  }
}`)

// selectWinner applies the three-stage strategy: synthesis when convergence
// justifies it, then the judge, then the score-then-cost fallback. It
// returns the winning selection, the subtree to copy from, and any extra
// worktrees the caller must clean up.
func (e *Engine) selectWinner(ctx context.Context, t task.Task, baseCommit, tmpParent string, candidates []CompetitorResult, result *Result, logDir string) (selection, sourceTree, []string) {
	var extraWorktrees []string

	// Stage 1: synthesis, only when several candidates converged hard
	// enough that merging them is more than a gamble.
	if len(candidates) >= 2 && result.Convergence != nil && result.Convergence.Ratio >= e.cfg.ConvergenceThreshold {
		if sel, tree, wts, ok := e.trySynthesis(ctx, t, baseCommit, tmpParent, candidates, result, logDir); ok {
			return sel, tree, wts
		} else {
			extraWorktrees = append(extraWorktrees, wts...)
		}
	}

	// Stage 2: the judge, when there is a real comparison to make.
	if withDiffs := diffCandidates(candidates); len(withDiffs) >= 2 {
		if sel, tree, ok := e.tryJudge(ctx, t, tmpParent, withDiffs, result, logDir); ok {
			return sel, tree, extraWorktrees
		}
	}

	// Stage 3: objective fallback — best verification score, cheapest on ties.
	pool := make([]CompetitorResult, len(candidates))
	copy(pool, candidates)
	sortByScoreThenCost(pool)
	best := pool[0]
	e.logger.Info("Winner by score-then-cost fallback",
		zap.String("task", t.ID),
		zap.String("winner", best.ID),
		zap.Int("score", best.Score),
	)
	return selection{id: best.ID, strategy: best.Strategy},
		sourceTree{dir: filepath.Join(tmpParent, best.ID), changedFiles: best.ChangedFiles},
		extraWorktrees
}

// trySynthesis runs the semantic convergence analysis and, when viable, the
// synthesis attempt. The synthesis is adopted only when its verification
// score matches or beats the best individual candidate — that check is what
// turns an unreliable optimisation into a safe one.
func (e *Engine) trySynthesis(ctx context.Context, t task.Task, baseCommit, tmpParent string, candidates []CompetitorResult, result *Result, logDir string) (selection, sourceTree, []string, bool) {
	synth := &Synthesis{Attempted: true}
	result.Synthesis = synth

	promptCandidates := toPromptCandidates(candidates)

	analysisPrompt, err := e.prompts.ConvergenceAnalysis(t, promptCandidates)
	if err != nil {
		synth.Rationale = err.Error()
		return selection{}, sourceTree{}, nil, false
	}
	resp, err := e.adapter.Invoke(ctx, t.ID+":convergence-analysis", llm.Request{
		Prompt:  analysisPrompt,
		Model:   e.cfg.JudgeModel,
		Schema:  convergenceSchema,
		LogPath: filepath.Join(logDir, "convergence-analysis.log"),
	})
	if resp != nil {
		result.TotalCost += resp.Cost
	}
	if err != nil || resp == nil || !resp.Success || resp.Structured == nil {
		synth.Rationale = "convergence analysis unavailable"
		return selection{}, sourceTree{}, nil, false
	}

	var verdict convergenceVerdict
	if err := json.Unmarshal(resp.Structured, &verdict); err != nil {
		synth.Rationale = "convergence analysis returned malformed JSON"
		return selection{}, sourceTree{}, nil, false
	}
	synth.ConvergentPatterns = verdict.ConvergentPatterns
	synth.DivergentApproaches = verdict.DivergentApproaches
	synth.Viable = verdict.SynthesisViable
	if !verdict.SynthesisViable {
		synth.Rationale = "analysis judged synthesis not viable"
		return selection{}, sourceTree{}, nil, false
	}

	// Build the synthesis worktree and let the model merge.
	wtPath := filepath.Join(tmpParent, "synthesis")
	if err := e.git.WorktreeAdd(ctx, wtPath, baseCommit); err != nil {
		synth.Rationale = fmt.Sprintf("synthesis worktree: %v", err)
		return selection{}, sourceTree{}, nil, false
	}
	worktrees := []string{wtPath}

	synthPrompt, err := e.prompts.Synthesis(t, promptCandidates, verdict.ConvergentPatterns, verdict.DivergentApproaches)
	if err != nil {
		synth.Rationale = err.Error()
		return selection{}, sourceTree{}, worktrees, false
	}
	system, err := e.prompts.SynthesisSystem()
	if err != nil {
		synth.Rationale = err.Error()
		return selection{}, sourceTree{}, worktrees, false
	}

	synthResp, err := e.adapter.Invoke(ctx, t.ID+":synthesis", llm.Request{
		Prompt:       synthPrompt,
		SystemPrompt: system,
		Model:        e.cfg.Model,
		Tools:        codeTools,
		Timeout:      e.cfg.CompetitorTimeout,
		WorkDir:      wtPath,
		LogPath:      filepath.Join(logDir, "synthesis.log"),
	})
	if err != nil || synthResp == nil || !synthResp.Success {
		synth.Fallback = true
		synth.Rationale = "synthesis call failed"
		return selection{}, sourceTree{}, worktrees, false
	}
	result.TotalCost += synthResp.Cost

	wtGit := e.git.WithDir(wtPath)
	files, err := wtGit.ChangedFiles(ctx)
	if err != nil || len(files) == 0 {
		synth.Fallback = true
		synth.Rationale = "synthesis produced no changes"
		return selection{}, sourceTree{}, worktrees, false
	}

	score := 0
	if e.verifier.HasCommands() {
		vr, err := e.verifier.Run(ctx, wtPath, filepath.Join(logDir, "verify.log"))
		if err != nil {
			synth.Fallback = true
			synth.Rationale = fmt.Sprintf("synthesis verification: %v", err)
			return selection{}, sourceTree{}, worktrees, false
		}
		score = vr.Score
	}
	synth.Score = score

	if best := maxScore(candidates); score < best {
		synth.Fallback = true
		synth.Rationale = fmt.Sprintf("synthesis scored %d, below best candidate %d", score, best)
		return selection{}, sourceTree{}, worktrees, false
	}

	synth.Succeeded = true
	synth.Rationale = "synthesis matched or beat the best candidate"
	e.logger.Info("Synthesis accepted",
		zap.String("task", t.ID),
		zap.Int("score", score),
	)
	return selection{id: SynthesisWinner, strategy: SynthesisWinner},
		sourceTree{dir: wtPath, changedFiles: files},
		worktrees, true
}

// tryJudge asks the judge model to pick among candidate diffs. Any
// validation failure falls through to the objective fallback.
func (e *Engine) tryJudge(ctx context.Context, t task.Task, tmpParent string, candidates []CompetitorResult, result *Result, logDir string) (selection, sourceTree, bool) {
	judgePrompt, err := e.prompts.Judge(t, toPromptCandidates(candidates))
	if err != nil {
		return selection{}, sourceTree{}, false
	}
	system, err := e.prompts.JudgeSystem()
	if err != nil {
		return selection{}, sourceTree{}, false
	}

	resp, err := e.adapter.Invoke(ctx, t.ID+":judge", llm.Request{
		Prompt:       judgePrompt,
		SystemPrompt: system,
		Model:        e.cfg.JudgeModel,
		Schema:       judgeSchema,
		LogPath:      filepath.Join(logDir, "judge.log"),
	})
	if err != nil || resp == nil || !resp.Success || resp.Structured == nil {
		return selection{}, sourceTree{}, false
	}
	result.TotalCost += resp.Cost

	var verdict struct {
		Winner    string `json:"winner"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal(resp.Structured, &verdict); err != nil {
		return selection{}, sourceTree{}, false
	}

	for _, c := range candidates {
		if c.ID == verdict.Winner {
			result.JudgeRationale = verdict.Rationale
			e.logger.Info("Winner by judge",
				zap.String("task", t.ID),
				zap.String("winner", c.ID),
			)
			return selection{id: c.ID, strategy: c.Strategy},
				sourceTree{dir: filepath.Join(tmpParent, c.ID), changedFiles: c.ChangedFiles},
				true
		}
	}

	e.logger.Warn("Judge named an unknown winner, falling back",
		zap.String("task", t.ID),
		zap.String("winner", verdict.Winner),
	)
	return selection{}, sourceTree{}, false
}

func toPromptCandidates(candidates []CompetitorResult) []prompt.Candidate {
	out := make([]prompt.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = prompt.Candidate{ID: c.ID, Strategy: c.Strategy, Score: c.Score, Diff: c.Diff}
	}
	return out
}
