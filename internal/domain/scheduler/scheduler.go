// Package scheduler runs the multi-pass iteration loop over the task queue:
// ready-set computation from the dependency graph, budget and circuit-
// breaker enforcement, interrupt observation, and termination detection.
package scheduler

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/store"
)

// StopReason explains why the loop ended.
type StopReason string

const (
	StopAllComplete     StopReason = "all_complete"
	StopNoProgress      StopReason = "no_progress"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopCircuitBreaker  StopReason = "circuit_breaker"
	StopInterrupted     StopReason = "interrupted"
)

// TaskRunner drives one task to a terminal status. Satisfied by the
// lifecycle executor.
type TaskRunner interface {
	Run(ctx context.Context, t task.Task, findings string) error
	FindingsPath(id string) string
}

// BudgetGate answers the per-iteration budget check.
type BudgetGate interface {
	Available(cap float64) bool
}

// Config tunes the scheduler.
type Config struct {
	BudgetCap               float64
	CircuitBreakerThreshold int
}

// Scheduler owns the outer loop.
type Scheduler struct {
	cfg       Config
	queue     *task.Queue
	state     *store.StateStore
	budget    BudgetGate
	runner    TaskRunner
	interrupt *atomic.Bool // set by the signal handler
	logger    *zap.Logger
}

// New wires a scheduler. interrupt is observed at iteration and task
// boundaries; the scheduler never installs its own signal handling.
func New(cfg Config, queue *task.Queue, state *store.StateStore, budget BudgetGate, runner TaskRunner, interrupt *atomic.Bool, logger *zap.Logger) *Scheduler {
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 3
	}
	return &Scheduler{
		cfg:       cfg,
		queue:     queue,
		state:     state,
		budget:    budget,
		runner:    runner,
		interrupt: interrupt,
		logger:    logger.With(zap.String("component", "scheduler")),
	}
}

// maxIterations bounds the outer loop: two passes per task, capped at 100.
func maxIterations(taskCount int) int {
	n := 2 * taskCount
	if n > 100 {
		return 100
	}
	if n < 1 {
		return 1
	}
	return n
}

// Run iterates until every task is terminal or a stop condition fires.
func (s *Scheduler) Run(ctx context.Context) StopReason {
	limit := maxIterations(len(s.queue.Tasks))

	for iteration := 1; iteration <= limit; iteration++ {
		if s.interrupted() {
			return StopInterrupted
		}
		if !s.budget.Available(s.cfg.BudgetCap) {
			s.logger.Warn("Budget exhausted", zap.Float64("cap", s.cfg.BudgetCap))
			return StopBudgetExhausted
		}

		ready, transitions := s.computeReadySet()
		progress := transitions > 0

		counts := s.state.Counts()
		s.logger.Info("Iteration",
			zap.Int("n", iteration),
			zap.Int("ready", len(ready)),
			zap.Int("completed", counts.Completed),
			zap.Int("failed", counts.Failed),
		)

		if len(ready) == 0 {
			if counts.Pending+counts.Blocked+counts.InProgress == 0 {
				return StopAllComplete
			}
			if !progress {
				return StopNoProgress
			}
			continue
		}

		for _, id := range ready {
			if s.interrupted() {
				return StopInterrupted
			}
			if s.state.ConsecutiveFailures() >= s.cfg.CircuitBreakerThreshold {
				s.logger.Error("Circuit breaker tripped",
					zap.Int("consecutive_failures", s.state.ConsecutiveFailures()),
				)
				return StopCircuitBreaker
			}

			t := s.queue.Get(id)
			if t == nil {
				continue
			}
			before, _ := s.state.Get(id)
			findings := s.collectFindings(*t)
			if err := s.runner.Run(ctx, *t, findings); err != nil {
				// Store-level failure; the task's own outcome is already in
				// the state store.
				s.logger.Error("Task runner error", zap.String("task", id), zap.Error(err))
			}
			// Progress means the task's status actually moved; a runner
			// that leaves the status untouched does not count.
			if after, _ := s.state.Get(id); after.Status != before.Status {
				progress = true
			}
		}

		counts = s.state.Counts()
		if counts.Pending+counts.Blocked+counts.InProgress == 0 {
			return StopAllComplete
		}
		if !progress {
			return StopNoProgress
		}
	}

	return StopNoProgress
}

// computeReadySet walks all tasks once: promotes unblocked tasks, demotes
// pending tasks whose dependencies regressed, and collects the ready set
// sorted by task id. Returns the ready ids and the number of status transitions
// made (transitions count as progress).
func (s *Scheduler) computeReadySet() ([]string, int) {
	var ready []string
	transitions := 0

	for _, t := range s.queue.Tasks {
		ts, ok := s.state.Get(t.ID)
		if !ok || ts.Status.Terminal() || ts.Status == task.StatusInProgress {
			continue
		}

		met := s.state.DependenciesMet(t.ID, s.queue)
		switch {
		case ts.Status == task.StatusBlocked && met:
			if err := s.state.Set(t.ID, task.StatusPending, ""); err != nil {
				s.logger.Error("Unblocking task failed", zap.String("task", t.ID), zap.Error(err))
				continue
			}
			transitions++
			ready = append(ready, t.ID)
		case ts.Status == task.StatusPending && !met:
			if err := s.state.Set(t.ID, task.StatusBlocked, ""); err != nil {
				s.logger.Error("Blocking task failed", zap.String("task", t.ID), zap.Error(err))
				continue
			}
			transitions++
		case ts.Status == task.StatusPending && met:
			ready = append(ready, t.ID)
		}
	}

	sort.Strings(ready)
	return ready, transitions
}

// collectFindings concatenates the findings.md of every explore dependency.
func (s *Scheduler) collectFindings(t task.Task) string {
	var parts []string
	for _, dep := range t.DependsOn {
		depTask := s.queue.Get(dep)
		if depTask == nil || depTask.Kind != task.KindExplore {
			continue
		}
		data, err := os.ReadFile(s.runner.FindingsPath(dep))
		if err != nil || len(data) == 0 {
			continue
		}
		parts = append(parts, "## Findings from "+dep+" ("+depTask.Title+")\n\n"+string(data))
	}
	return strings.Join(parts, "\n\n")
}

// Resume normalises state loaded from disk before the loop starts: an
// in_progress explore task whose findings file exists and is non-empty
// effectively completed before the crash; every other in_progress task
// cannot safely resume mid-flight and re-runs from pending.
func (s *Scheduler) Resume() error {
	for _, id := range s.state.ByStatus(task.StatusInProgress) {
		t := s.queue.Get(id)
		if t != nil && t.Kind == task.KindExplore {
			if info, err := os.Stat(s.runner.FindingsPath(id)); err == nil && info.Size() > 0 {
				s.logger.Info("Resume: explore task has findings, completing", zap.String("task", id))
				if err := s.state.Set(id, task.StatusCompleted, task.PhaseB); err != nil {
					return err
				}
				continue
			}
		}
		s.logger.Info("Resume: demoting in-progress task to pending", zap.String("task", id))
		if err := s.state.Set(id, task.StatusPending, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) interrupted() bool {
	return s.interrupt != nil && s.interrupt.Load()
}
