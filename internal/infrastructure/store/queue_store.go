package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kenpal-inc/convergent/internal/domain/task"
)

// QueueFileName is the task queue file inside a run directory.
const QueueFileName = "tasks.json"

// SaveQueue validates and writes the task queue for a run.
func SaveQueue(runDir string, q *task.Queue) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid queue: %w", err)
	}
	return writeJSONAtomic(filepath.Join(runDir, QueueFileName), q)
}

// LoadQueue reads and re-validates the task queue of an existing run.
func LoadQueue(runDir string) (*task.Queue, error) {
	var q task.Queue
	if err := readJSON(filepath.Join(runDir, QueueFileName), &q); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run has no %s: %w", QueueFileName, err)
		}
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("stored queue invalid: %w", err)
	}
	return &q, nil
}
