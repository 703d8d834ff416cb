// Package reports renders the per-task and summary reports of a run from
// the on-disk state. It is a leaf consumer: it reads the stores and writes
// markdown (plus an HTML rendering of the summary) under <run>/reports/.
package reports

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

// Input is everything the renderer needs.
type Input struct {
	Queue      *task.Queue
	State      task.RunState
	StopReason string
	RunDir     string
}

// Write renders reports/<task-id>.md for every task plus reports/summary.md
// and reports/summary.html.
func Write(in Input) error {
	dir := filepath.Join(in.RunDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	for _, t := range in.Queue.Tasks {
		md := taskReport(t, in.State.TasksStatus[t.ID])
		if err := os.WriteFile(filepath.Join(dir, t.ID+".md"), []byte(md), 0o644); err != nil {
			return err
		}
	}

	summary := Summary(in)
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(summary), 0o644); err != nil {
		return err
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(summary), &html); err != nil {
		return fmt.Errorf("render summary html: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "summary.html"), html.Bytes(), 0o644)
}

// Summary renders the run summary markdown.
func Summary(in Input) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Run summary\n\n")
	fmt.Fprintf(&sb, "**Goal:** %s\n\n", in.Queue.Goal)
	fmt.Fprintf(&sb, "**Stop reason:** `%s`\n\n", in.StopReason)

	counts := countStatuses(in.State)
	fmt.Fprintf(&sb, "| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Tasks | %d |\n", len(in.Queue.Tasks))
	fmt.Fprintf(&sb, "| Completed | %d |\n", counts[task.StatusCompleted])
	fmt.Fprintf(&sb, "| Failed | %d |\n", counts[task.StatusFailed])
	fmt.Fprintf(&sb, "| Total cost | $%.4f |\n", in.State.TotalCost)
	if !in.State.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "| Duration | %s |\n", in.State.LastUpdated.Sub(in.State.StartedAt).Round(time.Second))
	}
	if in.State.Branch != "" {
		fmt.Fprintf(&sb, "| Branch | %s |\n", in.State.Branch)
	}
	if in.State.PRURL != "" {
		fmt.Fprintf(&sb, "| Pull request | %s |\n", in.State.PRURL)
	}
	sb.WriteString("\n## Tasks\n\n")
	sb.WriteString("| Task | Kind | Status | Phase | Strategy | Convergence |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range in.Queue.Tasks {
		ts := in.State.TasksStatus[t.ID]
		status, phase, strategy, conv := "-", "-", "-", "-"
		if ts != nil {
			status = string(ts.Status)
			if ts.Phase != "" {
				phase = string(ts.Phase)
			}
			if m := ts.TournamentMetrics; m != nil {
				strategy = m.WinnerStrategy
				conv = fmt.Sprintf("%.2f", m.ConvergenceRatio)
			}
		}
		fmt.Fprintf(&sb, "| %s: %s | %s | %s | %s | %s | %s |\n",
			t.ID, t.Title, t.Kind, status, phase, strategy, conv)
	}

	if failed := failedTasks(in); len(failed) > 0 {
		sb.WriteString("\n## Failed tasks\n\n")
		for _, line := range failed {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	return sb.String()
}

func taskReport(t task.Task, ts *task.TaskState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s: %s\n\n", t.ID, t.Title)
	fmt.Fprintf(&sb, "**Kind:** %s · **Complexity:** %s\n\n", t.Kind, t.Complexity)
	fmt.Fprintf(&sb, "%s\n\n", t.Description)

	if len(t.AcceptanceCriteria) > 0 {
		sb.WriteString("## Acceptance criteria\n\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}

	if ts == nil {
		sb.WriteString("No execution record.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Outcome\n\n**Status:** %s", ts.Status)
	if ts.Phase != "" {
		fmt.Fprintf(&sb, " (phase %s)", ts.Phase)
	}
	sb.WriteString("\n")
	if ts.CompletedAt != nil {
		fmt.Fprintf(&sb, "\n**Completed:** %s\n", ts.CompletedAt.Format(time.RFC3339))
	}

	if m := ts.TournamentMetrics; m != nil {
		sb.WriteString("\n## Tournament\n\n")
		fmt.Fprintf(&sb, "- Competitors: %d (implemented %d, verified %d)\n", m.Competitors, m.Implemented, m.Verified)
		fmt.Fprintf(&sb, "- Winner: %s (score %d, spread %d)\n", m.WinnerStrategy, m.WinnerScore, m.ScoreSpread)
		fmt.Fprintf(&sb, "- Convergence: %.2f · diff lines: %d\n", m.ConvergenceRatio, m.WinnerDiffLines)
		if m.SynthesisAttempted {
			fmt.Fprintf(&sb, "- Synthesis: attempted, succeeded=%t, fallback=%t\n", m.SynthesisSucceeded, m.SynthesisFallback)
			if m.SynthesisRationale != "" {
				fmt.Fprintf(&sb, "  - %s\n", m.SynthesisRationale)
			}
		}
		for _, p := range m.ConvergentPatterns {
			fmt.Fprintf(&sb, "- Convergent pattern: %s\n", p)
		}
	}

	return sb.String()
}

func countStatuses(state task.RunState) map[task.Status]int {
	counts := make(map[task.Status]int)
	for _, ts := range state.TasksStatus {
		counts[ts.Status]++
	}
	return counts
}

func failedTasks(in Input) []string {
	var out []string
	for id, ts := range in.State.TasksStatus {
		if ts.Status == task.StatusFailed {
			phase := string(ts.Phase)
			if phase == "" {
				phase = "?"
			}
			out = append(out, fmt.Sprintf("%s — last phase: %s", id, phase))
		}
	}
	sort.Strings(out)
	return out
}
