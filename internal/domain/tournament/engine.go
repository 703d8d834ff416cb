package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/prompt"
	"github.com/kenpal-inc/convergent/internal/infrastructure/scm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/verify"
	"github.com/kenpal-inc/convergent/pkg/safego"
)

// Config tunes the tournament engine.
type Config struct {
	MaxCompetitors       int
	Strategies           []string // ordered; the first N are used
	ConvergenceThreshold float64  // synthesis trigger
	LaunchStagger        time.Duration
	CompetitorTimeout    time.Duration
	Model                string // competitor / synthesis model
	JudgeModel           string // judge / convergence-analysis model
}

// Engine runs tournaments against one repository.
type Engine struct {
	cfg      Config
	git      *scm.Git
	verifier *verify.Runner
	adapter  Invoker
	prompts  *prompt.Engine
	logger   *zap.Logger
}

// NewEngine wires a tournament engine.
func NewEngine(cfg Config, git *scm.Git, verifier *verify.Runner, adapter Invoker, prompts *prompt.Engine, logger *zap.Logger) *Engine {
	if cfg.LaunchStagger <= 0 {
		cfg.LaunchStagger = 2 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		git:      git,
		verifier: verifier,
		adapter:  adapter,
		prompts:  prompts,
		logger:   logger.With(zap.String("component", "tournament")),
	}
}

// Run executes one tournament for t at baseCommit and applies the winner to
// the main tree. On any failure the main tree is left untouched. logDir
// receives the per-competitor and selection logs.
func (e *Engine) Run(ctx context.Context, t task.Task, baseCommit, learnings, findings, logDir string) (*Result, error) {
	n := CompetitorCount(t.Complexity, e.cfg.MaxCompetitors)
	if n > len(e.cfg.Strategies) {
		n = len(e.cfg.Strategies)
	}

	// Worktrees live under the OS temp dir, outside the project tree. Some
	// LLM CLIs walk upward looking for a project config directory; a
	// worktree nested inside the project would resolve paths back into the
	// main tree and corrupt it.
	tmpParent, err := os.MkdirTemp("", "convergent-"+t.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create worktree parent: %w", err)
	}

	result := &Result{TaskID: t.ID}
	var worktrees []string
	defer func() {
		for _, wt := range worktrees {
			if err := e.git.WorktreeRemove(context.Background(), wt); err != nil {
				e.logger.Warn("Worktree removal failed", zap.String("path", wt), zap.Error(err))
			}
		}
		if err := os.RemoveAll(tmpParent); err != nil {
			e.logger.Warn("Temp dir removal failed", zap.String("path", tmpParent), zap.Error(err))
		}
	}()

	e.logger.Info("Tournament starting",
		zap.String("task", t.ID),
		zap.Int("competitors", n),
		zap.String("base_commit", baseCommit),
	)

	// Create all worktrees up front so a failure here aborts cleanly before
	// any LLM spend.
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(tmpParent, fmt.Sprintf("competitor-%d", i+1))
		if err := e.git.WorktreeAdd(ctx, paths[i], baseCommit); err != nil {
			return nil, fmt.Errorf("create worktree for competitor %d: %w", i+1, err)
		}
		worktrees = append(worktrees, paths[i])
	}

	// Launch competitors concurrently with a small stagger and settle-all:
	// every competitor finishes (or times out) before scoring so the
	// candidate pool is complete. No cancellation on first failure.
	competitors := make([]CompetitorResult, n)
	dones := make([]<-chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		strategy := e.cfg.Strategies[i]
		competitors[i] = CompetitorResult{
			ID:       fmt.Sprintf("competitor-%d", i+1),
			Strategy: strategy,
		}
		dones[i] = safego.GoDone(e.logger, competitors[i].ID, func() {
			if i > 0 {
				select {
				case <-time.After(time.Duration(i) * e.cfg.LaunchStagger):
				case <-ctx.Done():
					competitors[i].Error = ctx.Err().Error()
					return
				}
			}
			e.runCompetitor(ctx, t, strategy, paths[i], learnings, findings, logDir, &competitors[i])
		})
	}
	for _, done := range dones {
		<-done
	}

	// Scoring is sequential once everyone has settled.
	for i := range competitors {
		e.scoreCompetitor(ctx, paths[i], logDir, &competitors[i])
		result.TotalCost += competitors[i].Cost
		e.writeCompetitorRecord(logDir, &competitors[i])
	}
	result.Competitors = competitors
	result.Convergence = analyzeConvergence(competitors)

	candidates := candidatePool(competitors)
	if len(candidates) == 0 {
		return result, fmt.Errorf("tournament produced no candidates")
	}

	winner, source, cleanup := e.selectWinner(ctx, t, baseCommit, tmpParent, candidates, result, logDir)
	if cleanup != nil {
		worktrees = append(worktrees, cleanup...)
	}

	if err := applyChanges(source.dir, e.git.Dir(), source.changedFiles); err != nil {
		return result, fmt.Errorf("apply winner: %w", err)
	}

	result.WinnerID = winner.id
	result.WinnerStrategy = winner.strategy
	e.logger.Info("Tournament finished",
		zap.String("task", t.ID),
		zap.String("winner", winner.id),
		zap.String("strategy", winner.strategy),
		zap.Float64("cost", result.TotalCost),
	)
	return result, nil
}

// runCompetitor performs one competitor's LLM call. Scoring happens later.
func (e *Engine) runCompetitor(ctx context.Context, t task.Task, strategy, worktree, learnings, findings, logDir string, out *CompetitorResult) {
	system, err := e.prompts.StrategySystem(strategy)
	if err != nil {
		out.Error = err.Error()
		return
	}
	promptText, err := e.prompts.Competitor(t, learnings, findings)
	if err != nil {
		out.Error = err.Error()
		return
	}

	resp, err := e.adapter.Invoke(ctx, t.ID+":"+out.ID, llm.Request{
		Prompt:       promptText,
		SystemPrompt: system,
		Model:        e.cfg.Model,
		Tools:        codeTools,
		Timeout:      e.cfg.CompetitorTimeout,
		WorkDir:      worktree,
		LogPath:      filepath.Join(logDir, out.ID+".log"),
	})
	if err != nil {
		out.Error = err.Error()
		return
	}
	out.Cost = resp.Cost
	if !resp.Success {
		// Not fatal yet: the child may have written useful changes before
		// failing. The changed-file scan decides implemented-or-not.
		out.Error = resp.Result
	}
}

// scoreCompetitor reads the worktree's changes and runs verification.
func (e *Engine) scoreCompetitor(ctx context.Context, worktree, logDir string, out *CompetitorResult) {
	wtGit := e.git.WithDir(worktree)

	files, err := wtGit.ChangedFiles(ctx)
	if err != nil {
		out.Error = fmt.Sprintf("changed-file scan: %v", err)
		return
	}
	if len(files) == 0 {
		return // not implemented, score 0
	}
	out.Implemented = true
	out.ChangedFiles = files

	diff, err := wtGit.Diff(ctx)
	if err == nil {
		out.Diff = diff
		out.DiffLines = scm.DiffLineCount(diff)
	}

	if !e.verifier.HasCommands() {
		return
	}
	vr, err := e.verifier.Run(ctx, worktree, filepath.Join(logDir, "verify.log"))
	if err != nil {
		out.Error = fmt.Sprintf("verification: %v", err)
		return
	}
	out.Verification = vr
	out.Score = vr.Score
}

func (e *Engine) writeCompetitorRecord(logDir string, c *CompetitorResult) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(logDir, c.ID+".json"), data, 0o644)
}
