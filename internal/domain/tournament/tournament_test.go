package tournament

import (
	"testing"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/verify"
)

func implemented(id string, score int, cost float64, files ...string) CompetitorResult {
	return CompetitorResult{
		ID:           id,
		Strategy:     "pragmatist",
		Implemented:  true,
		Score:        score,
		Cost:         cost,
		ChangedFiles: files,
		Diff:         "+" + id,
	}
}

func TestCompetitorCount(t *testing.T) {
	cases := []struct {
		complexity task.Complexity
		max        int
		want       int
	}{
		{task.ComplexityTrivial, 3, 1},
		{task.ComplexityStandard, 3, 2},
		{task.ComplexityStandard, 1, 1},
		{task.ComplexityComplex, 3, 3},
		{task.ComplexityComplex, 5, 5},
		{task.ComplexityComplex, 0, 1},
	}
	for _, c := range cases {
		if got := CompetitorCount(c.complexity, c.max); got != c.want {
			t.Fatalf("CompetitorCount(%s, %d) = %d, want %d", c.complexity, c.max, got, c.want)
		}
	}
}

func TestConvergence_IdenticalSetsRatioOne(t *testing.T) {
	conv := analyzeConvergence([]CompetitorResult{
		implemented("competitor-1", 70, 1, "a.ts", "b.ts"),
		implemented("competitor-2", 70, 1, "b.ts", "a.ts"),
	})
	if conv == nil {
		t.Fatal("expected convergence analysis")
	}
	if conv.Ratio != 1.0 {
		t.Fatalf("ratio %v, want 1.0", conv.Ratio)
	}
	// Ratio 1 means the common set IS the union.
	if len(conv.CommonFiles) != len(conv.UnionFiles) {
		t.Fatalf("ratio 1 but common %v != union %v", conv.CommonFiles, conv.UnionFiles)
	}
}

func TestConvergence_DisjointSetsRatioZero(t *testing.T) {
	conv := analyzeConvergence([]CompetitorResult{
		implemented("competitor-1", 70, 1, "a.ts"),
		implemented("competitor-2", 70, 1, "b.ts"),
	})
	if conv.Ratio != 0.0 {
		t.Fatalf("ratio %v, want 0.0", conv.Ratio)
	}
}

func TestConvergence_RatioWithinBounds(t *testing.T) {
	conv := analyzeConvergence([]CompetitorResult{
		implemented("competitor-1", 70, 1, "a.ts", "b.ts", "c.ts"),
		implemented("competitor-2", 70, 1, "a.ts", "d.ts"),
		implemented("competitor-3", 70, 1, "a.ts", "b.ts"),
	})
	if conv.Ratio < 0 || conv.Ratio > 1 {
		t.Fatalf("ratio out of bounds: %v", conv.Ratio)
	}
	// a.ts is the only file everyone touched; union has 4 files.
	if len(conv.CommonFiles) != 1 || conv.CommonFiles[0] != "a.ts" {
		t.Fatalf("common files %v", conv.CommonFiles)
	}
	if conv.Ratio != 0.25 {
		t.Fatalf("ratio %v, want 0.25", conv.Ratio)
	}
}

func TestConvergence_RequiresTwoImplemented(t *testing.T) {
	if conv := analyzeConvergence([]CompetitorResult{implemented("competitor-1", 70, 1, "a.ts")}); conv != nil {
		t.Fatal("single competitor must not produce convergence")
	}
	if conv := analyzeConvergence([]CompetitorResult{
		implemented("competitor-1", 70, 1, "a.ts"),
		{ID: "competitor-2", Implemented: false},
	}); conv != nil {
		t.Fatal("unimplemented competitors do not count")
	}
}

func TestCandidatePool_PrefersPassing(t *testing.T) {
	pool := candidatePool([]CompetitorResult{
		implemented("competitor-1", 0, 1, "a.ts"),
		implemented("competitor-2", 55, 1, "a.ts"),
		{ID: "competitor-3", Implemented: false},
	})
	if len(pool) != 1 || pool[0].ID != "competitor-2" {
		t.Fatalf("expected only the passing competitor, got %+v", pool)
	}
}

func TestCandidatePool_FallsBackToImplemented(t *testing.T) {
	// Nobody passed (or verification is not configured): every implemented
	// competitor stays in the running.
	pool := candidatePool([]CompetitorResult{
		implemented("competitor-1", 0, 1, "a.ts"),
		implemented("competitor-2", 0, 1, "b.ts"),
		{ID: "competitor-3", Implemented: false},
	})
	if len(pool) != 2 {
		t.Fatalf("expected 2 implemented candidates, got %+v", pool)
	}
}

func TestCandidatePool_EmptyWhenNothingImplemented(t *testing.T) {
	pool := candidatePool([]CompetitorResult{
		{ID: "competitor-1"},
		{ID: "competitor-2"},
	})
	if len(pool) != 0 {
		t.Fatalf("expected empty pool, got %+v", pool)
	}
}

func TestSortByScoreThenCost(t *testing.T) {
	pool := []CompetitorResult{
		implemented("competitor-1", 55, 0.9, "a.ts"),
		implemented("competitor-2", 70, 2.0, "a.ts"),
		implemented("competitor-3", 70, 1.0, "a.ts"),
		implemented("competitor-4", 55, 0.1, "a.ts"),
	}
	sortByScoreThenCost(pool)

	// For any adjacent pair: higher score first, cheaper on ties.
	for i := 0; i < len(pool)-1; i++ {
		a, b := pool[i], pool[i+1]
		if !(a.Score > b.Score || (a.Score == b.Score && a.Cost <= b.Cost)) {
			t.Fatalf("ordering violated at %d: %+v before %+v", i, a, b)
		}
	}
	if pool[0].ID != "competitor-3" {
		t.Fatalf("expected competitor-3 first, got %s", pool[0].ID)
	}
}

func TestResultMetrics(t *testing.T) {
	r := &Result{
		TaskID:         "task-001",
		WinnerID:       "competitor-2",
		WinnerStrategy: "thorough",
		Competitors: []CompetitorResult{
			func() CompetitorResult {
				c := implemented("competitor-1", 55, 1, "a.ts")
				c.Verification = &verify.Result{Score: 55, MaxScore: 70, Commands: []verify.CommandResult{{Passed: true}}}
				c.DiffLines = 10
				return c
			}(),
			func() CompetitorResult {
				c := implemented("competitor-2", 70, 1, "a.ts")
				c.Strategy = "thorough"
				c.Verification = &verify.Result{Score: 70, MaxScore: 70, Commands: []verify.CommandResult{{Passed: true}}}
				c.DiffLines = 24
				return c
			}(),
			{ID: "competitor-3", Strategy: "deconstructor"},
		},
		Convergence: &Convergence{Ratio: 1.0},
	}

	m := r.Metrics()
	if m.Competitors != 3 || m.Implemented != 2 || m.Verified != 2 {
		t.Fatalf("counts wrong: %+v", m)
	}
	if m.WinnerStrategy != "thorough" || m.WinnerScore != 70 {
		t.Fatalf("winner wrong: %+v", m)
	}
	if m.ScoreSpread != 15 {
		t.Fatalf("spread %d, want 15", m.ScoreSpread)
	}
	if m.WinnerDiffLines != 24 {
		t.Fatalf("diff lines %d, want 24", m.WinnerDiffLines)
	}
	if m.ConvergenceRatio != 1.0 {
		t.Fatalf("convergence %v, want 1.0", m.ConvergenceRatio)
	}
}

func TestResultMetrics_SynthesisWinner(t *testing.T) {
	r := &Result{
		TaskID:         "task-001",
		WinnerID:       SynthesisWinner,
		WinnerStrategy: SynthesisWinner,
		Competitors: []CompetitorResult{
			implemented("competitor-1", 55, 1, "a.ts"),
			implemented("competitor-2", 55, 1, "a.ts"),
		},
		Convergence: &Convergence{Ratio: 1.0},
		Synthesis: &Synthesis{
			Attempted: true,
			Viable:    true,
			Succeeded: true,
			Score:     70,
		},
	}

	m := r.Metrics()
	if !m.SynthesisAttempted || !m.SynthesisSucceeded {
		t.Fatalf("synthesis flags wrong: %+v", m)
	}
	if m.WinnerStrategy != SynthesisWinner {
		t.Fatalf("winner strategy must be the synthesis literal, got %q", m.WinnerStrategy)
	}
	if m.WinnerScore != 70 {
		t.Fatalf("synthesis winner score %d, want 70", m.WinnerScore)
	}
}
