package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

// StateFileName is the run-state file inside a run directory.
const StateFileName = "state.json"

// StateStore owns state.json: per-task status, phase and tournament metrics,
// plus the run aggregates (cost, consecutive failures, branch, PR URL).
// All read-modify-write operations are serialised by the store mutex.
type StateStore struct {
	mu     sync.Mutex
	path   string
	state  task.RunState
	logger *zap.Logger
}

// NewStateStore creates a store bound to <runDir>/state.json. Call Init for a
// fresh run or Load to resume an existing one before any other operation.
func NewStateStore(runDir string, logger *zap.Logger) *StateStore {
	return &StateStore{
		path:   filepath.Join(runDir, StateFileName),
		logger: logger.With(zap.String("component", "state-store")),
	}
}

// Init seeds the state with every task pending and persists it.
func (s *StateStore) Init(tasks []task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.state = task.RunState{
		TasksStatus: make(map[string]*task.TaskState, len(tasks)),
		StartedAt:   now,
		LastUpdated: now,
	}
	for _, t := range tasks {
		s.state.TasksStatus[t.ID] = &task.TaskState{Status: task.StatusPending}
	}
	return s.persistLocked()
}

// Load reads existing state from disk.
func (s *StateStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := readJSON(s.path, &s.state); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run has no %s: %w", StateFileName, err)
		}
		return err
	}
	if s.state.TasksStatus == nil {
		s.state.TasksStatus = map[string]*task.TaskState{}
	}
	return nil
}

// Get returns a copy of the task's state.
func (s *StateStore) Get(id string) (task.TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.state.TasksStatus[id]
	if !ok {
		return task.TaskState{}, false
	}
	return *ts, true
}

// Set transitions a task to status with the given phase. Completed stamps
// completed_at and zeroes the consecutive-failure counter; failed increments
// it. For the one structural-failure call site that must not trip the
// circuit breaker, use SetFailedSoft.
func (s *StateStore) Set(id string, status task.Status, phase task.Phase) error {
	return s.set(id, status, phase, false)
}

// SetFailedSoft marks a task failed without touching the consecutive-failure
// counter. Reserved for failures whose cause is structural (for example the
// planner not producing structured output), where retrying other tasks is
// still worthwhile.
func (s *StateStore) SetFailedSoft(id string, phase task.Phase) error {
	return s.set(id, task.StatusFailed, phase, true)
}

func (s *StateStore) set(id string, status task.Status, phase task.Phase, soft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.state.TasksStatus[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}

	ts.Status = status
	ts.Phase = phase

	switch status {
	case task.StatusCompleted:
		now := time.Now().UTC()
		ts.CompletedAt = &now
		s.state.ConsecutiveFailures = 0
	case task.StatusFailed:
		if !soft {
			s.state.ConsecutiveFailures++
		}
	}

	s.state.LastUpdated = time.Now().UTC()
	s.logger.Debug("Task state updated",
		zap.String("task", id),
		zap.String("status", string(status)),
		zap.String("phase", string(phase)),
		zap.Bool("soft", soft),
	)
	return s.persistLocked()
}

// ConsecutiveFailures returns the circuit-breaker counter.
func (s *StateStore) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ConsecutiveFailures
}

// DependenciesMet reports whether every dependency of id is completed. The
// graph comes from the queue, not from the store.
func (s *StateStore) DependenciesMet(id string, q *task.Queue) bool {
	t := q.Get(id)
	if t == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dep := range t.DependsOn {
		ts, ok := s.state.TasksStatus[dep]
		if !ok || ts.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// ByStatus returns the ids currently in any of the given statuses, in no
// particular order (map iteration is unordered, so callers sort where
// ordering matters).
func (s *StateStore) ByStatus(statuses ...task.Status) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[task.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var ids []string
	for id, ts := range s.state.TasksStatus {
		if want[ts.Status] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts tallies tasks by status.
func (s *StateStore) Counts() task.StatusCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c task.StatusCounts
	for _, ts := range s.state.TasksStatus {
		switch ts.Status {
		case task.StatusPending:
			c.Pending++
		case task.StatusBlocked:
			c.Blocked++
		case task.StatusInProgress:
			c.InProgress++
		case task.StatusCompleted:
			c.Completed++
		case task.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// ResetFailedAndBlocked promotes all failed and blocked tasks back to
// pending, clears their phase, zeroes the consecutive-failure counter, and
// stamps last_updated. Returns the number of tasks reset.
func (s *StateStore) ResetFailedAndBlocked() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, ts := range s.state.TasksStatus {
		if ts.Status == task.StatusFailed || ts.Status == task.StatusBlocked {
			ts.Status = task.StatusPending
			ts.Phase = ""
			reset++
		}
	}
	s.state.ConsecutiveFailures = 0
	s.state.LastUpdated = time.Now().UTC()
	return reset, s.persistLocked()
}

// RecordTournamentMetrics attaches metrics to a task. Metrics are written
// once per tournament attempt and never mutated afterwards.
func (s *StateStore) RecordTournamentMetrics(id string, m task.TournamentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.state.TasksStatus[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	ts.TournamentMetrics = &m
	s.state.LastUpdated = time.Now().UTC()
	return s.persistLocked()
}

// SetBranch records the working branch for the run.
func (s *StateStore) SetBranch(branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Branch = branch
	s.state.LastUpdated = time.Now().UTC()
	return s.persistLocked()
}

// SetPRURL records the pull-request URL for the run.
func (s *StateStore) SetPRURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PRURL = url
	s.state.LastUpdated = time.Now().UTC()
	return s.persistLocked()
}

// AddCost folds a cost delta into the run aggregate. Called by the budget
// store inside its own serialised section so the two files never disagree by
// more than the one in-flight write.
func (s *StateStore) AddCost(delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TotalCost += delta
	s.state.LastUpdated = time.Now().UTC()
	return s.persistLocked()
}

// Snapshot returns a deep copy of the current run state.
func (s *StateStore) Snapshot() task.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.state
	out.TasksStatus = make(map[string]*task.TaskState, len(s.state.TasksStatus))
	for id, ts := range s.state.TasksStatus {
		c := *ts
		out.TasksStatus[id] = &c
	}
	return out
}

func (s *StateStore) persistLocked() error {
	return writeJSONAtomic(s.path, &s.state)
}
