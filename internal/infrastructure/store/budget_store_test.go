package store

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

func newTestBudget(t *testing.T) (*BudgetStore, *StateStore) {
	t.Helper()
	dir := t.TempDir()
	state := NewStateStore(dir, zap.NewNop())
	if err := state.Init([]task.Task{{ID: "task-001", Kind: task.KindCode, Complexity: task.ComplexityTrivial}}); err != nil {
		t.Fatal(err)
	}
	budget := NewBudgetStore(dir, state, zap.NewNop())
	if err := budget.Init(); err != nil {
		t.Fatal(err)
	}
	return budget, state
}

func TestBudgetStore_TotalEqualsSumOfEntries(t *testing.T) {
	b, _ := newTestBudget(t)
	costs := []float64{0.25, 1.5, 0, 0.125}
	for _, c := range costs {
		if err := b.RecordCost("task-001:competitor-1", c); err != nil {
			t.Fatal(err)
		}
	}

	sum := 0.0
	for _, e := range b.Entries() {
		sum += e.Cost
	}
	if math.Abs(b.Total()-sum) > 1e-9 {
		t.Fatalf("total %v != sum of entries %v", b.Total(), sum)
	}
	if len(b.Entries()) != len(costs) {
		t.Fatalf("expected %d entries, got %d", len(costs), len(b.Entries()))
	}
}

func TestBudgetStore_TotalIsOrderIndependent(t *testing.T) {
	b1, _ := newTestBudget(t)
	b2, _ := newTestBudget(t)

	_ = b1.RecordCost("x", 0.3)
	_ = b1.RecordCost("y", 0.7)
	_ = b2.RecordCost("y", 0.7)
	_ = b2.RecordCost("x", 0.3)

	if math.Abs(b1.Total()-b2.Total()) > 1e-9 {
		t.Fatalf("totals diverge: %v vs %v", b1.Total(), b2.Total())
	}
}

func TestBudgetStore_Available(t *testing.T) {
	b, _ := newTestBudget(t)
	if !b.Available(1.0) {
		t.Fatal("fresh budget must be available")
	}
	_ = b.RecordCost("x", 0.5)
	if !b.Available(1.0) {
		t.Fatal("under cap must be available")
	}
	_ = b.RecordCost("y", 0.5)
	if b.Available(1.0) {
		t.Fatal("total == cap must not be available")
	}
}

func TestBudgetStore_MirrorsIntoRunState(t *testing.T) {
	b, state := newTestBudget(t)
	_ = b.RecordCost("x", 0.4)
	_ = b.RecordCost("y", 0.35)

	if math.Abs(state.Snapshot().TotalCost-0.75) > 1e-9 {
		t.Fatalf("state aggregate %v != 0.75", state.Snapshot().TotalCost)
	}
}

func TestBudgetStore_LoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	state := NewStateStore(dir, zap.NewNop())
	b := NewBudgetStore(dir, state, zap.NewNop())
	if err := b.Load(); err != nil {
		t.Fatalf("load of missing ledger must succeed: %v", err)
	}
	if b.Total() != 0 {
		t.Fatalf("expected empty ledger, total %v", b.Total())
	}
}

func TestBudgetStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	state := NewStateStore(dir, zap.NewNop())
	if err := state.Init(nil); err != nil {
		t.Fatal(err)
	}
	b := NewBudgetStore(dir, state, zap.NewNop())
	if err := b.Init(); err != nil {
		t.Fatal(err)
	}
	_ = b.RecordCost("x", 1.25)

	reloaded := NewBudgetStore(dir, state, zap.NewNop())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(reloaded.Total()-1.25) > 1e-9 {
		t.Fatalf("reloaded total %v != 1.25", reloaded.Total())
	}
}
