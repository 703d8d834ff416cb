package task

import (
	"strings"
	"testing"
	"time"
)

func validQueue() *Queue {
	return &Queue{
		Goal:      "add feature",
		CreatedAt: time.Now(),
		Tasks: []Task{
			{ID: "task-001", Title: "explore", Description: "look around", Kind: KindExplore, Complexity: ComplexityTrivial},
			{ID: "task-002", Title: "implement", Description: "do it", Kind: KindCode, Complexity: ComplexityStandard, DependsOn: []string{"task-001"}},
			{ID: "task-003", Title: "wire up", Description: "finish", Kind: KindCode, Complexity: ComplexityComplex, DependsOn: []string{"task-002"}},
		},
	}
}

func TestQueueValidate_AcceptsValidQueue(t *testing.T) {
	if err := validQueue().Validate(); err != nil {
		t.Fatalf("expected valid queue, got %v", err)
	}
}

func TestQueueValidate_RejectsEmptyQueue(t *testing.T) {
	q := &Queue{Goal: "nothing"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for empty queue")
	}
}

func TestQueueValidate_RejectsBadIDPattern(t *testing.T) {
	q := validQueue()
	q.Tasks[0].ID = "task-1"
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for id not matching task-NNN")
	}
}

func TestQueueValidate_RejectsDuplicateIDs(t *testing.T) {
	q := validQueue()
	q.Tasks[1].ID = "task-001"
	err := q.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestQueueValidate_RejectsMissingDependency(t *testing.T) {
	q := validQueue()
	q.Tasks[2].DependsOn = []string{"task-999"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for missing dependency")
	}
}

func TestQueueValidate_RejectsCycle(t *testing.T) {
	q := validQueue()
	q.Tasks[0].DependsOn = []string{"task-003"}
	err := q.Validate()
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestQueueValidate_RejectsSelfDependency(t *testing.T) {
	q := validQueue()
	q.Tasks[1].DependsOn = []string{"task-002"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestQueueValidate_RejectsUnknownKind(t *testing.T) {
	q := validQueue()
	q.Tasks[0].Kind = "magic"
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestQueueValidate_AcceptsEmptyAcceptanceCriteria(t *testing.T) {
	q := validQueue()
	q.Tasks[1].AcceptanceCriteria = nil
	if err := q.Validate(); err != nil {
		t.Fatalf("empty acceptance criteria must be accepted, got %v", err)
	}
}

func TestQueueGet(t *testing.T) {
	q := validQueue()
	if got := q.Get("task-002"); got == nil || got.Title != "implement" {
		t.Fatalf("Get returned %+v", got)
	}
	if got := q.Get("task-404"); got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusBlocked, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
