package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase is the sub-step a task is in while in_progress.
type Phase string

const (
	PhaseTournament Phase = "T"      // tournament running
	PhaseB          Phase = "B"      // single-shot explore/command phase
	PhaseVerify     Phase = "verify" // verification on the main tree
	PhaseReview     Phase = "review" // structured review / fix loop
	PhaseCommit     Phase = "commit" // staging and committing the winner
)

// TournamentMetrics records the outcome of one tournament attempt.
// Written once per attempt; never mutated thereafter.
type TournamentMetrics struct {
	Competitors        int      `json:"competitors"`
	Implemented        int      `json:"implemented"`
	Verified           int      `json:"verified"`
	WinnerStrategy     string   `json:"winner_strategy"`
	WinnerScore        int      `json:"winner_score"`
	ScoreSpread        int      `json:"score_spread"`
	ConvergenceRatio   float64  `json:"convergence_ratio"`
	WinnerDiffLines    int      `json:"winner_diff_lines"`
	SynthesisAttempted bool     `json:"synthesis_attempted,omitempty"`
	SynthesisSucceeded bool     `json:"synthesis_succeeded,omitempty"`
	SynthesisFallback  bool     `json:"synthesis_fallback,omitempty"`
	SynthesisRationale string   `json:"synthesis_rationale,omitempty"`
	ConvergentPatterns []string `json:"convergent_patterns,omitempty"`
}

// TaskState is the mutable per-task execution record held by the state store.
type TaskState struct {
	Status            Status             `json:"status"`
	Phase             Phase              `json:"phase,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	TournamentMetrics *TournamentMetrics `json:"tournament_metrics,omitempty"`
}

// RunState is the aggregate on-disk run record (state.json).
type RunState struct {
	TasksStatus         map[string]*TaskState `json:"tasks_status"`
	TotalCost           float64               `json:"total_cost"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	StartedAt           time.Time             `json:"started_at"`
	LastUpdated         time.Time             `json:"last_updated"`
	Branch              string                `json:"branch,omitempty"`
	PRURL               string                `json:"pr_url,omitempty"`
}

// StatusCounts is a tally of tasks by status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Blocked    int `json:"blocked"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total sums all buckets.
func (c StatusCounts) Total() int {
	return c.Pending + c.Blocked + c.InProgress + c.Completed + c.Failed
}
