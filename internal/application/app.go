// Package application wires the orchestrator together: run-directory
// lifecycle, store construction, component assembly, signal handling,
// resume, and end-of-run reporting and archival.
package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/generator"
	"github.com/kenpal-inc/convergent/internal/domain/lifecycle"
	"github.com/kenpal-inc/convergent/internal/domain/scheduler"
	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/domain/tournament"
	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/persistence"
	"github.com/kenpal-inc/convergent/internal/infrastructure/persistence/models"
	"github.com/kenpal-inc/convergent/internal/infrastructure/prompt"
	"github.com/kenpal-inc/convergent/internal/infrastructure/scm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/store"
	"github.com/kenpal-inc/convergent/internal/infrastructure/verify"
	"github.com/kenpal-inc/convergent/internal/reports"
	apperrors "github.com/kenpal-inc/convergent/pkg/errors"
)

// Options configure one orchestrator invocation.
type Options struct {
	ProjectDir   string
	Goal         string // fresh runs only
	Instructions string
	RunDir       string // resume: explicit run directory ("" = latest)
	Resume       bool
	Retry        bool // reset failed+blocked before running
	DryRun       bool // generate the queue and stop
	Verbose      bool
	BudgetCap    float64 // overrides config when > 0
	MaxComp      int     // overrides config when > 0
}

// App is a fully wired orchestrator run.
type App struct {
	cfg        *config.Config
	opts       Options
	runDir     string
	queue      *task.Queue
	state      *store.StateStore
	budget     *store.BudgetStore
	learnings  *store.LearningsStore
	sched      *scheduler.Scheduler
	watcher    *config.Watcher
	logger     *zap.Logger
	closeLog   func()
	interrupt  atomic.Bool
	stopNotify func()
}

// New loads config, prepares the run directory, and wires every component.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ProjectDir)
	if err != nil {
		return nil, apperrors.NewInvalidConfigError("loading configuration", err)
	}
	if opts.BudgetCap > 0 {
		cfg.Budget.MaxCost = opts.BudgetCap
	}
	if opts.MaxComp > 0 {
		cfg.Tournament.MaxCompetitors = opts.MaxComp
	}
	if opts.Verbose {
		cfg.Log.Verbose = true
	}

	bootLogger, _ := zap.NewDevelopment()
	if err := config.Bootstrap(opts.ProjectDir, bootLogger); err != nil {
		return nil, err
	}

	runDir, err := resolveRunDir(opts)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := newRunLogger(runDir, cfg.Log.Level, cfg.Log.Verbose)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:      cfg,
		opts:     opts,
		runDir:   runDir,
		logger:   logger,
		closeLog: closeLog,
	}

	git := scm.NewGit(opts.ProjectDir, logger)
	if !git.IsRepo(context.Background()) {
		closeLog()
		return nil, apperrors.NewSCMUnavailableError(
			fmt.Sprintf("%s is not a git repository", opts.ProjectDir), nil)
	}

	app.state = store.NewStateStore(runDir, logger)
	app.budget = store.NewBudgetStore(runDir, app.state, logger)
	app.learnings = store.NewLearningsStore(runDir, logger)

	watcher, err := config.NewWatcher(opts.ProjectDir, cfg, logger)
	if err == nil {
		app.watcher = watcher
	}

	adapter := llm.NewAdapter(llm.Config{
		Binary:         cfg.LLM.Binary,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseWait:  cfg.LLM.RetryBaseWait,
		DefaultMaxCost: cfg.LLM.MaxCostPerCall,
	}, app.budget, logger)

	prompts := prompt.NewEngine(opts.ProjectDir, logger)
	verifier := verify.NewRunner(cfg.Verification, logger)

	engine := tournament.NewEngine(tournament.Config{
		MaxCompetitors:       cfg.Tournament.MaxCompetitors,
		Strategies:           cfg.Tournament.Strategies,
		ConvergenceThreshold: cfg.Tournament.ConvergenceThreshold,
		LaunchStagger:        cfg.Tournament.LaunchStagger,
		CompetitorTimeout:    cfg.Tournament.CompetitorTimeout,
		Model:                cfg.LLM.Model,
		JudgeModel:           cfg.LLM.JudgeModel,
	}, git, verifier, adapter, prompts, logger)

	logsDir := filepath.Join(runDir, "logs")
	lc := lifecycle.New(lifecycle.Config{
		ReviewEnabled:       cfg.Review.Enabled,
		ReviewMaxRetries:    cfg.Review.MaxFixRetries,
		ReviewSkipThreshold: cfg.Review.SkipConvergence,
		MultiReviewer:       cfg.Review.MultiReviewer,
		Personas:            cfg.Review.Personas,
		CommitChanges:       cfg.Orchestrator.CommitChanges,
		Model:               cfg.LLM.Model,
		ReviewModel:         cfg.LLM.JudgeModel,
		CallTimeout:         cfg.LLM.CallTimeout,
	}, app.state, app.learnings, engine, verifier, git, adapter, prompts, logsDir, logger)

	if opts.Resume {
		if err := app.loadExistingRun(); err != nil {
			closeLog()
			return nil, err
		}
	} else {
		if err := app.startFreshRun(adapter, prompts, git); err != nil {
			closeLog()
			return nil, err
		}
	}

	app.sched = scheduler.New(scheduler.Config{
		BudgetCap:               cfg.Budget.MaxCost,
		CircuitBreakerThreshold: cfg.Orchestrator.CircuitBreakerThreshold,
	}, app.queue, app.state, &tunableBudgetGate{budget: app.budget, watcher: app.watcher},
		lc, &app.interrupt, logger)

	return app, nil
}

// tunableBudgetGate lets a config.yaml edit raise or lower the budget cap
// between iterations: the watcher's current cap wins over the one the
// scheduler was constructed with.
type tunableBudgetGate struct {
	budget  *store.BudgetStore
	watcher *config.Watcher
}

func (g *tunableBudgetGate) Available(cap float64) bool {
	if g.watcher != nil {
		if t := g.watcher.Tunables(); t.BudgetMaxCost > 0 {
			cap = t.BudgetMaxCost
		}
	}
	return g.budget.Available(cap)
}

// startFreshRun generates and persists the task queue and seeds the stores.
func (a *App) startFreshRun(adapter *llm.Adapter, prompts *prompt.Engine, git *scm.Git) error {
	if a.opts.Goal == "" {
		return apperrors.NewInvalidQueueError("a goal is required to start a run")
	}

	phase0Dir := filepath.Join(a.runDir, "logs", "phase0")
	if err := os.MkdirAll(phase0Dir, 0o755); err != nil {
		return err
	}

	// The budget store must exist before planning: the planner call is paid
	// work and lands in the ledger like everything else. State is seeded
	// with an empty task map until the queue exists.
	if err := a.state.Init(nil); err != nil {
		return err
	}
	if err := a.budget.Init(); err != nil {
		return err
	}

	gen := generator.New(adapter, prompts, a.cfg.LLM.PlannerModel, a.opts.ProjectDir,
		filepath.Join(phase0Dir, "planner.log"), a.logger)

	queue, err := gen.Generate(context.Background(), a.opts.Goal, a.opts.Instructions)
	if err != nil {
		if errors.Is(err, generator.ErrNoStructuredOutput) {
			return apperrors.NewInvalidQueueError("planner produced no structured task queue; re-run to retry")
		}
		return err
	}

	if err := store.SaveQueue(a.runDir, queue); err != nil {
		return err
	}
	a.queue = queue
	if err := a.state.Init(queue.Tasks); err != nil {
		return err
	}

	branch := a.cfg.Orchestrator.BranchPrefix + uuid.NewString()[:8]
	if err := git.CreateBranch(context.Background(), branch); err != nil {
		a.logger.Warn("Run branch creation failed, staying on current branch", zap.Error(err))
	} else if err := a.state.SetBranch(branch); err != nil {
		return err
	}
	return nil
}

// loadExistingRun restores queue and stores from disk.
func (a *App) loadExistingRun() error {
	queue, err := store.LoadQueue(a.runDir)
	if err != nil {
		return err
	}
	a.queue = queue
	if err := a.state.Load(); err != nil {
		return err
	}
	if err := a.budget.Load(); err != nil {
		return err
	}
	if err := a.learnings.Load(); err != nil {
		return err
	}
	if a.opts.Retry {
		reset, err := a.state.ResetFailedAndBlocked()
		if err != nil {
			return err
		}
		a.logger.Info("Retry requested", zap.Int("tasks_reset", reset))
	}
	return nil
}

// Execute runs the scheduler to completion and finishes the run. Returns
// the stop reason and the process exit code.
func (a *App) Execute(ctx context.Context) (scheduler.StopReason, int, error) {
	defer a.Close()

	if a.opts.DryRun {
		a.logger.Info("Dry run: queue generated, not executing",
			zap.Int("tasks", len(a.queue.Tasks)))
		return scheduler.StopAllComplete, 0, nil
	}

	a.installSignalHandler()

	if a.opts.Resume {
		if err := a.sched.Resume(); err != nil {
			return "", 1, err
		}
	}

	reason := a.sched.Run(ctx)

	if err := a.writeReports(reason); err != nil {
		a.logger.Warn("Report rendering failed", zap.Error(err))
	}
	if err := a.archive(reason); err != nil {
		a.logger.Warn("Run archival failed", zap.Error(err))
	}

	exitCode := 0
	if reason == scheduler.StopInterrupted {
		exitCode = 130
	}
	return reason, exitCode, nil
}

// installSignalHandler sets the interrupt flag on SIGINT/SIGTERM. The flag
// is observed at iteration and task boundaries; a second signal kills the
// process the hard way via Go's default disposition being restored.
func (a *App) installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	a.stopNotify = func() { signal.Stop(ch) }
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		a.logger.Warn("Interrupt received, stopping at next boundary",
			zap.String("signal", sig.String()))
		a.interrupt.Store(true)
		signal.Stop(ch)
	}()
}

func (a *App) writeReports(reason scheduler.StopReason) error {
	return reports.Write(reports.Input{
		Queue:      a.queue,
		State:      a.state.Snapshot(),
		StopReason: string(reason),
		RunDir:     a.runDir,
	})
}

// archive stores the finished run in the history database.
func (a *App) archive(reason scheduler.StopReason) error {
	if !a.cfg.History.Enabled {
		return nil
	}
	dbPath := filepath.Join(a.opts.ProjectDir, config.StateDirName, a.cfg.History.DBPath)
	history, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}

	snapshot := a.state.Snapshot()
	counts := a.state.Counts()

	run := models.RunModel{
		ID:             filepath.Base(a.runDir),
		RunDir:         a.runDir,
		Goal:           a.queue.Goal,
		StopReason:     string(reason),
		TotalCost:      snapshot.TotalCost,
		TasksTotal:     len(a.queue.Tasks),
		TasksCompleted: counts.Completed,
		TasksFailed:    counts.Failed,
		Branch:         snapshot.Branch,
		PRURL:          snapshot.PRURL,
		StartedAt:      snapshot.StartedAt,
		FinishedAt:     time.Now().UTC(),
	}

	var tasks []models.TaskModel
	for _, t := range a.queue.Tasks {
		tm := models.TaskModel{TaskID: t.ID, Title: t.Title, Kind: string(t.Kind)}
		if ts := snapshot.TasksStatus[t.ID]; ts != nil {
			tm.Status = string(ts.Status)
			tm.Phase = string(ts.Phase)
			if ts.TournamentMetrics != nil {
				tm.WinnerStrategy = ts.TournamentMetrics.WinnerStrategy
				tm.ConvergenceRatio = ts.TournamentMetrics.ConvergenceRatio
			}
		}
		tasks = append(tasks, tm)
	}
	return history.ArchiveRun(run, tasks)
}

// SummaryMarkdown renders the run summary for terminal display.
func (a *App) SummaryMarkdown(reason scheduler.StopReason) string {
	return reports.Summary(reports.Input{
		Queue:      a.queue,
		State:      a.state.Snapshot(),
		StopReason: string(reason),
		RunDir:     a.runDir,
	})
}

// RunDir returns the run directory in use.
func (a *App) RunDir() string { return a.runDir }

// Queue returns the task queue.
func (a *App) Queue() *task.Queue { return a.queue }

// Close releases the watcher and log file. Idempotent enough for defer.
func (a *App) Close() {
	if a.stopNotify != nil {
		a.stopNotify()
		a.stopNotify = nil
	}
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}
}
