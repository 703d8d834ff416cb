// Package lifecycle drives one task from pending to a terminal status. Code
// tasks run tournament → verify → review → commit with hard-reset revert
// semantics; explore and command tasks run a single LLM phase.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/domain/tournament"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/prompt"
	"github.com/kenpal-inc/convergent/internal/infrastructure/scm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/store"
	"github.com/kenpal-inc/convergent/internal/infrastructure/verify"
)

// Config tunes the lifecycle.
type Config struct {
	ReviewEnabled       bool
	ReviewMaxRetries    int
	ReviewSkipThreshold float64 // convergence at or above skips review
	MultiReviewer       bool
	Personas            []string
	CommitChanges       bool // commit explore/command products
	Model               string
	ReviewModel         string
	CallTimeout         time.Duration // single-shot and fixer call timeout
}

// Lifecycle executes tasks.
type Lifecycle struct {
	cfg        Config
	state      *store.StateStore
	learnings  *store.LearningsStore
	engine     *tournament.Engine
	verifier   *verify.Runner
	git        *scm.Git
	adapter    tournament.Invoker
	prompts    *prompt.Engine
	logsDir    string // <run>/logs
	logger     *zap.Logger
}

// New wires a lifecycle executor.
func New(cfg Config, state *store.StateStore, learnings *store.LearningsStore, engine *tournament.Engine, verifier *verify.Runner, git *scm.Git, adapter tournament.Invoker, prompts *prompt.Engine, logsDir string, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:       cfg,
		state:     state,
		learnings: learnings,
		engine:    engine,
		verifier:  verifier,
		git:       git,
		adapter:   adapter,
		prompts:   prompts,
		logsDir:   logsDir,
		logger:    logger.With(zap.String("component", "lifecycle")),
	}
}

// taskLogDir returns (and creates) logs/task-<id> for a task.
func (l *Lifecycle) taskLogDir(id string) string {
	dir := filepath.Join(l.logsDir, id)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// FindingsPath returns where an explore task's findings land.
func (l *Lifecycle) FindingsPath(id string) string {
	return filepath.Join(l.taskLogDir(id), "findings.md")
}

// Run drives t to a terminal status, updating the state store throughout.
// Errors are absorbed into the terminal status; the returned error reports
// only store-level failures the scheduler cannot recover from.
func (l *Lifecycle) Run(ctx context.Context, t task.Task, findings string) error {
	learnings := l.learnings.ContextBlob()

	switch t.Kind {
	case task.KindExplore, task.KindCommand:
		return l.runSingleShot(ctx, t, learnings)
	default:
		return l.runCode(ctx, t, learnings, findings)
	}
}

// runSingleShot executes an explore or command task in one phase B call.
func (l *Lifecycle) runSingleShot(ctx context.Context, t task.Task, learnings string) error {
	if err := l.state.Set(t.ID, task.StatusInProgress, task.PhaseB); err != nil {
		return err
	}
	logDir := l.taskLogDir(t.ID)

	var promptText, system string
	var err error
	if t.Kind == task.KindExplore {
		promptText, err = l.prompts.Explore(t, learnings, l.FindingsPath(t.ID))
		if err == nil {
			system, err = l.prompts.ExploreSystem()
		}
	} else {
		promptText, err = l.prompts.Command(t, learnings)
		if err == nil {
			system, err = l.prompts.CommandSystem()
		}
	}
	if err != nil {
		return l.fail(t, task.PhaseB, fmt.Sprintf("prompt assembly: %v", err))
	}

	resp, invokeErr := l.adapter.Invoke(ctx, t.ID+":B", llm.Request{
		Prompt:       promptText,
		SystemPrompt: system,
		Model:        l.cfg.Model,
		Tools:        []string{"Read", "Bash", "Grep", "Glob", "Write"},
		Timeout:      l.cfg.CallTimeout,
		WorkDir:      l.git.Dir(),
		LogPath:      filepath.Join(logDir, "phase-b.log"),
	})

	succeeded := invokeErr == nil && resp != nil && resp.Success
	if !succeeded && t.Kind == task.KindExplore {
		// An explore task that wrote non-empty findings before its CLI
		// errored has effectively completed.
		if info, statErr := os.Stat(l.FindingsPath(t.ID)); statErr == nil && info.Size() > 0 {
			l.logger.Warn("Explore CLI errored but findings exist, treating as success",
				zap.String("task", t.ID),
			)
			succeeded = true
		}
	}

	if !succeeded {
		detail := "llm call failed"
		if resp != nil && resp.Result != "" {
			detail = resp.Result
		}
		_, _ = l.learnings.Record(t.ID, store.LearningFailurePattern,
			fmt.Sprintf("%s task %q failed: %s", t.Kind, t.Title, firstLine(detail)))
		return l.fail(t, task.PhaseB, detail)
	}

	if l.cfg.CommitChanges {
		if files, ferr := l.git.ChangedFiles(ctx); ferr == nil && len(files) > 0 {
			if _, cerr := l.git.WithLog(filepath.Join(logDir, "git.log")).CommitAll(ctx, fmt.Sprintf("%s: %s", t.Kind, t.Title)); cerr != nil {
				l.logger.Warn("Commit of task products failed", zap.String("task", t.ID), zap.Error(cerr))
			}
		}
	}

	return l.state.Set(t.ID, task.StatusCompleted, task.PhaseB)
}

// runCode executes the full code-task state machine.
func (l *Lifecycle) runCode(ctx context.Context, t task.Task, learnings, findings string) error {
	logDir := l.taskLogDir(t.ID)
	gitLog := l.git.WithLog(filepath.Join(logDir, "git.log"))

	baseCommit, err := gitLog.HeadCommit(ctx)
	if err != nil {
		return l.fail(t, task.PhaseTournament, fmt.Sprintf("base commit: %v", err))
	}

	// ── Phase T ──
	if err := l.state.Set(t.ID, task.StatusInProgress, task.PhaseTournament); err != nil {
		return err
	}

	tr, terr := l.engine.Run(ctx, t, baseCommit, learnings, findings, logDir)
	if tr != nil {
		l.writeTournamentRecord(logDir, tr)
		if err := l.state.RecordTournamentMetrics(t.ID, tr.Metrics()); err != nil {
			l.logger.Warn("Recording tournament metrics failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
	if terr != nil {
		_, _ = l.learnings.Record(t.ID, store.LearningFailurePattern,
			fmt.Sprintf("tournament for %q failed: %s", t.Title, firstLine(terr.Error())))
		l.revert(ctx, gitLog, baseCommit)
		return l.fail(t, task.PhaseTournament, terr.Error())
	}

	// ── Verify on the main tree ──
	if err := l.state.Set(t.ID, task.StatusInProgress, task.PhaseVerify); err != nil {
		return err
	}
	verifyPassed := true
	if l.verifier.HasCommands() {
		vr, verr := l.verifier.Run(ctx, l.git.Dir(), filepath.Join(logDir, "verify.log"))
		if verr != nil || !vr.Passed() {
			verifyPassed = false
			detail := "verification failed on the main tree"
			if verr != nil {
				detail = verr.Error()
			}
			// Non-fatal: downstream tasks may repair. Skip review, commit
			// what we have.
			l.logger.Warn("Post-tournament verification failed, committing anyway",
				zap.String("task", t.ID),
				zap.String("detail", firstLine(detail)),
			)
			_, _ = l.learnings.Record(t.ID, store.LearningVerificationFailure,
				fmt.Sprintf("verification failed after tournament for %q", t.Title))
		}
	}

	// ── Review ──
	if verifyPassed {
		approved, rerr := l.reviewPhase(ctx, t, tr, baseCommit, logDir)
		if rerr != nil {
			l.revert(ctx, gitLog, baseCommit)
			return l.fail(t, task.PhaseReview, rerr.Error())
		}
		if !approved {
			l.revert(ctx, gitLog, baseCommit)
			return l.fail(t, task.PhaseReview, "review retries exhausted")
		}
	}

	// ── Commit ──
	if err := l.state.Set(t.ID, task.StatusInProgress, task.PhaseCommit); err != nil {
		return err
	}
	message := l.commitMessage(ctx, t, baseCommit, logDir)
	if _, cerr := gitLog.CommitAll(ctx, message); cerr != nil {
		l.revert(ctx, gitLog, baseCommit)
		return l.fail(t, task.PhaseCommit, fmt.Sprintf("commit: %v", cerr))
	}

	return l.state.Set(t.ID, task.StatusCompleted, task.PhaseCommit)
}

// revert hard-resets the main tree to the captured base commit. A plain
// checkout would not do: the reviewer-fixer may have produced intermediate
// commits that must disappear too.
func (l *Lifecycle) revert(ctx context.Context, git *scm.Git, baseCommit string) {
	if err := git.HardReset(ctx, baseCommit); err != nil {
		l.logger.Error("Revert to base commit failed", zap.String("commit", baseCommit), zap.Error(err))
	}
}

// fail marks the task failed in the given phase.
func (l *Lifecycle) fail(t task.Task, phase task.Phase, detail string) error {
	l.logger.Warn("Task failed",
		zap.String("task", t.ID),
		zap.String("phase", string(phase)),
		zap.String("detail", firstLine(detail)),
	)
	return l.state.Set(t.ID, task.StatusFailed, phase)
}

func (l *Lifecycle) writeTournamentRecord(logDir string, tr *tournament.Result) {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(logDir, "tournament.json"), data, 0o644)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
