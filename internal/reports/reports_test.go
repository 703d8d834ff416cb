package reports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

func testInput(runDir string) Input {
	now := time.Now().UTC()
	done := now.Add(-time.Minute)
	return Input{
		Queue: &task.Queue{
			Goal: "ship the feature",
			Tasks: []task.Task{
				{ID: "task-001", Title: "explore the code", Kind: task.KindExplore, Complexity: task.ComplexityTrivial},
				{ID: "task-002", Title: "implement it", Kind: task.KindCode, Complexity: task.ComplexityComplex},
			},
		},
		State: task.RunState{
			TasksStatus: map[string]*task.TaskState{
				"task-001": {Status: task.StatusCompleted, Phase: task.PhaseB, CompletedAt: &done},
				"task-002": {Status: task.StatusFailed, Phase: task.PhaseReview, TournamentMetrics: &task.TournamentMetrics{
					Competitors: 3, Implemented: 2, WinnerStrategy: "thorough", ConvergenceRatio: 0.33,
				}},
			},
			TotalCost:   4.2,
			StartedAt:   now.Add(-time.Hour),
			LastUpdated: now,
		},
		StopReason: "circuit_breaker",
		RunDir:     runDir,
	}
}

func TestSummary_CarriesOutcome(t *testing.T) {
	md := Summary(testInput(t.TempDir()))
	for _, want := range []string{
		"ship the feature",
		"circuit_breaker",
		"$4.2000",
		"task-002",
		"last phase: review",
		"thorough",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("summary missing %q:\n%s", want, md)
		}
	}
}

func TestWrite_ProducesAllReportFiles(t *testing.T) {
	runDir := t.TempDir()
	if err := Write(testInput(runDir)); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"task-001.md", "task-002.md", "summary.md", "summary.html"} {
		path := filepath.Join(runDir, "reports", name)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("%s is empty", name)
		}
	}

	html, _ := os.ReadFile(filepath.Join(runDir, "reports", "summary.html"))
	if !strings.Contains(string(html), "<h1") {
		t.Fatal("summary.html must be rendered HTML")
	}

	taskMD, _ := os.ReadFile(filepath.Join(runDir, "reports", "task-002.md"))
	if !strings.Contains(string(taskMD), "Convergence: 0.33") {
		t.Fatalf("task report missing tournament metrics:\n%s", taskMD)
	}
}
