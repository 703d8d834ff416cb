package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BudgetFileName is the cost ledger file inside a run directory.
const BudgetFileName = "budget.json"

// BudgetEntry is one appended cost record.
type BudgetEntry struct {
	Label     string    `json:"label"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// budgetLedger is the on-disk shape of budget.json.
type budgetLedger struct {
	Entries []BudgetEntry `json:"entries"`
	Total   float64       `json:"total"`
}

// BudgetStore is the append-only cost ledger. RecordCost appends an entry,
// bumps the running total, and mirrors the delta into the state store's
// aggregate inside the same serialised section. Callers check Available
// before each scheduler iteration, not before every sub-operation.
type BudgetStore struct {
	mu     sync.Mutex
	path   string
	ledger budgetLedger
	state  *StateStore
	logger *zap.Logger
}

// NewBudgetStore creates a store bound to <runDir>/budget.json.
func NewBudgetStore(runDir string, state *StateStore, logger *zap.Logger) *BudgetStore {
	return &BudgetStore{
		path:   filepath.Join(runDir, BudgetFileName),
		state:  state,
		logger: logger.With(zap.String("component", "budget-store")),
	}
}

// Init writes an empty ledger.
func (b *BudgetStore) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger = budgetLedger{Entries: []BudgetEntry{}}
	return writeJSONAtomic(b.path, &b.ledger)
}

// Load reads an existing ledger; a missing file is an empty ledger.
func (b *BudgetStore) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := readJSON(b.path, &b.ledger); err != nil {
		if os.IsNotExist(err) {
			b.ledger = budgetLedger{Entries: []BudgetEntry{}}
			return nil
		}
		return err
	}
	return nil
}

// RecordCost appends one entry and updates the totals. Zero-cost records are
// kept as given; the LLM adapter itself records only non-zero costs.
func (b *BudgetStore) RecordCost(label string, cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ledger.Entries = append(b.ledger.Entries, BudgetEntry{
		Label:     label,
		Cost:      cost,
		Timestamp: time.Now().UTC(),
	})
	b.ledger.Total += cost
	if err := writeJSONAtomic(b.path, &b.ledger); err != nil {
		return err
	}

	// Mirror into state.json while still holding the budget mutex. A crash
	// between the two writes leaves them off by one entry; the ledger is
	// authoritative for reconciliation.
	if err := b.state.AddCost(cost); err != nil {
		return err
	}

	b.logger.Debug("Cost recorded",
		zap.String("label", label),
		zap.Float64("cost", cost),
		zap.Float64("total", b.ledger.Total),
	)
	return nil
}

// Total returns the running total.
func (b *BudgetStore) Total() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Total
}

// Available reports whether the total is still under cap.
func (b *BudgetStore) Available(cap float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Total < cap
}

// Entries returns a copy of the ledger entries.
func (b *BudgetStore) Entries() []BudgetEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BudgetEntry, len(b.ledger.Entries))
	copy(out, b.ledger.Entries)
	return out
}
