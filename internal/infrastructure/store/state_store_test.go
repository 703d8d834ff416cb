package store

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

func testTasks() []task.Task {
	return []task.Task{
		{ID: "task-001", Kind: task.KindExplore, Complexity: task.ComplexityTrivial},
		{ID: "task-002", Kind: task.KindCode, Complexity: task.ComplexityStandard, DependsOn: []string{"task-001"}},
		{ID: "task-003", Kind: task.KindCode, Complexity: task.ComplexityComplex, DependsOn: []string{"task-002"}},
	}
}

func newTestStateStore(t *testing.T) *StateStore {
	t.Helper()
	s := NewStateStore(t.TempDir(), zap.NewNop())
	if err := s.Init(testTasks()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestStateStore_InitAllPending(t *testing.T) {
	s := newTestStateStore(t)
	counts := s.Counts()
	if counts.Pending != 3 || counts.Total() != 3 {
		t.Fatalf("expected 3 pending, got %+v", counts)
	}
}

func TestStateStore_CountsPartitionTasks(t *testing.T) {
	s := newTestStateStore(t)
	if err := s.Set("task-001", task.StatusCompleted, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("task-002", task.StatusInProgress, task.PhaseTournament); err != nil {
		t.Fatal(err)
	}
	counts := s.Counts()
	// Every task is in exactly one bucket.
	if counts.Total() != 3 {
		t.Fatalf("status buckets must partition the task set, got %+v", counts)
	}
	if counts.Completed != 1 || counts.InProgress != 1 || counts.Pending != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestStateStore_CompletedStampsAndResetsFailures(t *testing.T) {
	s := newTestStateStore(t)
	if err := s.Set("task-001", task.StatusFailed, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if s.ConsecutiveFailures() != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", s.ConsecutiveFailures())
	}

	if err := s.Set("task-002", task.StatusCompleted, task.PhaseCommit); err != nil {
		t.Fatal(err)
	}
	if s.ConsecutiveFailures() != 0 {
		t.Fatal("completed must zero the consecutive-failure counter")
	}
	ts, _ := s.Get("task-002")
	if ts.CompletedAt == nil {
		t.Fatal("completed must stamp completed_at")
	}
}

func TestStateStore_SoftFailureSkipsCounter(t *testing.T) {
	s := newTestStateStore(t)
	if err := s.Set("task-001", task.StatusFailed, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFailedSoft("task-002", task.PhaseTournament); err != nil {
		t.Fatal(err)
	}
	if s.ConsecutiveFailures() != 1 {
		t.Fatalf("soft failure must not move the counter, got %d", s.ConsecutiveFailures())
	}
	ts, _ := s.Get("task-002")
	if ts.Status != task.StatusFailed {
		t.Fatal("soft failure must still mark the task failed")
	}
}

func TestStateStore_HardFailuresAccumulate(t *testing.T) {
	s := newTestStateStore(t)
	for i, id := range []string{"task-001", "task-002", "task-003"} {
		if err := s.Set(id, task.StatusFailed, task.PhaseTournament); err != nil {
			t.Fatal(err)
		}
		if s.ConsecutiveFailures() != i+1 {
			t.Fatalf("expected %d failures, got %d", i+1, s.ConsecutiveFailures())
		}
	}
}

func TestStateStore_DependenciesMet(t *testing.T) {
	s := newTestStateStore(t)
	q := &task.Queue{Tasks: testTasks()}

	if !s.DependenciesMet("task-001", q) {
		t.Fatal("task with no deps must be met")
	}
	if s.DependenciesMet("task-002", q) {
		t.Fatal("dep not completed yet")
	}
	if err := s.Set("task-001", task.StatusCompleted, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if !s.DependenciesMet("task-002", q) {
		t.Fatal("dep completed, must be met")
	}
	if s.DependenciesMet("task-404", q) {
		t.Fatal("unknown task must not be met")
	}
}

func TestStateStore_ResetFailedAndBlocked(t *testing.T) {
	s := newTestStateStore(t)
	if err := s.Set("task-001", task.StatusFailed, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("task-002", task.StatusBlocked, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("task-003", task.StatusCompleted, task.PhaseCommit); err != nil {
		t.Fatal(err)
	}

	reset, err := s.ResetFailedAndBlocked()
	if err != nil {
		t.Fatal(err)
	}
	if reset != 2 {
		t.Fatalf("expected 2 resets, got %d", reset)
	}
	if s.ConsecutiveFailures() != 0 {
		t.Fatal("reset must zero the failure counter")
	}
	counts := s.Counts()
	if counts.Pending != 2 || counts.Completed != 1 {
		t.Fatalf("unexpected counts after reset %+v", counts)
	}
	ts, _ := s.Get("task-001")
	if ts.Phase != "" {
		t.Fatal("reset must clear the phase")
	}

	// Second invocation is a no-op.
	reset, err = s.ResetFailedAndBlocked()
	if err != nil {
		t.Fatal(err)
	}
	if reset != 0 {
		t.Fatalf("second reset must be a no-op, reset %d", reset)
	}
}

func TestStateStore_TournamentMetricsWrittenOnce(t *testing.T) {
	s := newTestStateStore(t)
	m := task.TournamentMetrics{Competitors: 3, WinnerStrategy: "pragmatist", ConvergenceRatio: 0.5}
	if err := s.RecordTournamentMetrics("task-002", m); err != nil {
		t.Fatal(err)
	}
	ts, _ := s.Get("task-002")
	if ts.TournamentMetrics == nil || ts.TournamentMetrics.WinnerStrategy != "pragmatist" {
		t.Fatalf("metrics not recorded: %+v", ts.TournamentMetrics)
	}
}

func TestStateStore_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s := NewStateStore(dir, zap.NewNop())
	if err := s.Init(testTasks()); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("task-001", task.StatusCompleted, task.PhaseB); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBranch("convergent/abc123"); err != nil {
		t.Fatal(err)
	}

	reloaded := NewStateStore(dir, zap.NewNop())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	ts, ok := reloaded.Get("task-001")
	if !ok || ts.Status != task.StatusCompleted {
		t.Fatalf("reloaded state lost the completion: %+v", ts)
	}
	if reloaded.Snapshot().Branch != "convergent/abc123" {
		t.Fatal("reloaded state lost the branch")
	}

	if _, err := os.Stat(filepath.Join(dir, StateFileName)); err != nil {
		t.Fatalf("state file missing: %v", err)
	}
}
