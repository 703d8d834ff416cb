package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LearningsFileName is the learnings file inside a run directory.
const LearningsFileName = "learnings.json"

// LearningKind classifies where a learning came from.
type LearningKind string

const (
	LearningReviewFeedback      LearningKind = "review_feedback"
	LearningFailurePattern      LearningKind = "failure_pattern"
	LearningVerificationFailure LearningKind = "verification_failure"
)

// Learning is one de-duplicated piece of accumulated run knowledge.
type Learning struct {
	TaskID    string       `json:"task_id"`
	Kind      LearningKind `json:"kind"`
	Summary   string       `json:"summary"`
	Timestamp time.Time    `json:"timestamp"`
}

// learningsFile is the on-disk shape of learnings.json.
type learningsFile struct {
	Learnings []Learning `json:"learnings"`
}

// LearningsStore accumulates review feedback and failure patterns across
// tasks and renders them as a context blob for future prompts. Entries of
// the same kind are de-duplicated by near-identical summary.
type LearningsStore struct {
	mu     sync.Mutex
	path   string
	file   learningsFile
	logger *zap.Logger
}

// NewLearningsStore creates a store bound to <runDir>/learnings.json.
func NewLearningsStore(runDir string, logger *zap.Logger) *LearningsStore {
	return &LearningsStore{
		path:   filepath.Join(runDir, LearningsFileName),
		logger: logger.With(zap.String("component", "learnings-store")),
	}
}

// Load reads existing learnings; a missing file is an empty store.
func (l *LearningsStore) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := readJSON(l.path, &l.file); err != nil {
		if os.IsNotExist(err) {
			l.file = learningsFile{}
			return nil
		}
		return err
	}
	return nil
}

// Record appends a learning unless an entry of the same kind already carries
// a near-identical summary. Returns true when the learning was added.
func (l *LearningsStore) Record(taskID string, kind LearningKind, summary string) (bool, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.file.Learnings {
		if existing.Kind != kind {
			continue
		}
		if nearIdentical(existing.Summary, summary) {
			l.logger.Debug("Learning deduplicated",
				zap.String("task", taskID),
				zap.String("kind", string(kind)),
			)
			return false, nil
		}
	}

	l.file.Learnings = append(l.file.Learnings, Learning{
		TaskID:    taskID,
		Kind:      kind,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	})
	return true, writeJSONAtomic(l.path, &l.file)
}

// ContextBlob renders all learnings as a prompt-ready block, oldest first.
// Returns "" when there is nothing to share.
func (l *LearningsStore) ContextBlob() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.file.Learnings) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Learnings from earlier tasks in this run:\n")
	for _, entry := range l.file.Learnings {
		fmt.Fprintf(&sb, "- [%s, %s] %s\n", entry.Kind, entry.TaskID, entry.Summary)
	}
	return sb.String()
}

// Len returns the number of stored learnings.
func (l *LearningsStore) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.file.Learnings)
}

// nearIdentical reports whether two summaries are close enough to be the same
// learning: case-folded token-set overlap ≥ 0.8, or one containing the other.
func nearIdentical(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}
	return tokenOverlap(la, lb) >= 0.8
}

// tokenOverlap computes |A ∩ B| / |A ∪ B| over whitespace-split token sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'`")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
