// Package generator produces the task queue for a run with a single LLM
// call, validating the result into an immutable, acyclic queue.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/prompt"
)

// ErrNoStructuredOutput marks the planner returning without a structured
// payload. It signals a structural problem with the call, not with the
// codebase; the application reports it as a startup error (INVALID_QUEUE)
// and the circuit breaker is not involved.
var ErrNoStructuredOutput = errors.New("planner produced no structured output")

// queueSchema constrains the planner's structured output.
var queueSchema = json.RawMessage(`{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "description", "kind", "complexity"],
        "properties": {
          "id": {"type": "string", "pattern": "^task-[0-9]{3}$"},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "kind": {"enum": ["code", "explore", "command"]},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "context_files": {"type": "array", "items": {"type": "string"}},
          "acceptance_criteria": {"type": "array", "items": {"type": "string"}},
          "complexity": {"enum": ["trivial", "standard", "complex"]}
        }
      }
    }
  }
}`)

// Generator turns a goal into a validated task queue.
type Generator struct {
	adapter *llm.Adapter
	prompts *prompt.Engine
	model   string
	workDir string
	logPath string
	logger  *zap.Logger
}

// New creates a generator. model is the planner model; logPath receives the
// raw planner output (logs/phase0).
func New(adapter *llm.Adapter, prompts *prompt.Engine, model, workDir, logPath string, logger *zap.Logger) *Generator {
	return &Generator{
		adapter: adapter,
		prompts: prompts,
		model:   model,
		workDir: workDir,
		logPath: logPath,
		logger:  logger.With(zap.String("component", "generator")),
	}
}

// Generate runs the planner once and validates the resulting queue.
func (g *Generator) Generate(ctx context.Context, goal, instructions string) (*task.Queue, error) {
	promptText, err := g.prompts.Planner(goal, instructions)
	if err != nil {
		return nil, err
	}
	system, err := g.prompts.PlannerSystem()
	if err != nil {
		return nil, err
	}

	resp, err := g.adapter.Invoke(ctx, "phase0:planning", llm.Request{
		Prompt:       promptText,
		SystemPrompt: system,
		Model:        g.model,
		Schema:       queueSchema,
		WorkDir:      g.workDir,
		LogPath:      g.logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("planner failed: %s", resp.Result)
	}
	if resp.Structured == nil {
		return nil, ErrNoStructuredOutput
	}

	var payload struct {
		Tasks []task.Task `json:"tasks"`
	}
	if err := json.Unmarshal(resp.Structured, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStructuredOutput, err)
	}

	q := &task.Queue{
		Goal:         goal,
		Instructions: instructions,
		CreatedAt:    time.Now().UTC(),
		Tasks:        payload.Tasks,
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("generated queue rejected: %w", err)
	}

	g.logger.Info("Task queue generated",
		zap.Int("tasks", len(q.Tasks)),
		zap.Float64("cost", resp.Cost),
	)
	return q, nil
}
