// Package prompt owns the system-prompt and task-prompt texts the
// orchestrator feeds to the LLM CLI. Texts are embedded defaults; a project
// can override any of them by dropping a same-named file under
// <project>/.convergent/prompts/.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
)

//go:embed texts/*.md
var texts embed.FS

// Engine resolves and expands prompt texts.
type Engine struct {
	overrideDir string
	logger      *zap.Logger
}

// NewEngine creates an engine; projectDir may be "" for embedded-only.
func NewEngine(projectDir string, logger *zap.Logger) *Engine {
	dir := ""
	if projectDir != "" {
		dir = filepath.Join(projectDir, config.StateDirName, "prompts")
	}
	return &Engine{
		overrideDir: dir,
		logger:      logger.With(zap.String("component", "prompt")),
	}
}

// text loads a prompt by base name, preferring a workspace override.
func (e *Engine) text(name string) (string, error) {
	if e.overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(e.overrideDir, name+".md")); err == nil {
			e.logger.Debug("Using workspace prompt override", zap.String("name", name))
			return string(data), nil
		}
	}
	data, err := texts.ReadFile("texts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return string(data), nil
}

// expand renders a prompt template with data.
func (e *Engine) expand(name string, data any) (string, error) {
	raw, err := e.text(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse prompt %q: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("expand prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// StrategySystem returns the system prompt for a competitor strategy label.
func (e *Engine) StrategySystem(strategy string) (string, error) {
	return e.text("strategy_" + strategy)
}

// taskData is the template payload shared by the task-facing prompts.
type taskData struct {
	Task      task.Task
	Criteria  string
	Learnings string
	Findings  string
	Extra     map[string]string
}

func newTaskData(t task.Task, learnings, findings string) taskData {
	var crit strings.Builder
	for _, c := range t.AcceptanceCriteria {
		fmt.Fprintf(&crit, "- %s\n", c)
	}
	return taskData{Task: t, Criteria: crit.String(), Learnings: learnings, Findings: findings}
}

// Competitor renders the full task prompt handed to each competitor.
func (e *Engine) Competitor(t task.Task, learnings, findings string) (string, error) {
	return e.expand("competitor", newTaskData(t, learnings, findings))
}

// Explore renders the prompt for an explore task; findingsPath is where the
// child must write its findings.
func (e *Engine) Explore(t task.Task, learnings, findingsPath string) (string, error) {
	d := newTaskData(t, learnings, "")
	d.Extra = map[string]string{"FindingsPath": findingsPath}
	return e.expand("explore", d)
}

// Command renders the prompt for a command task.
func (e *Engine) Command(t task.Task, learnings string) (string, error) {
	return e.expand("command", newTaskData(t, learnings, ""))
}

// ExploreSystem and CommandSystem return the corresponding system prompts.
func (e *Engine) ExploreSystem() (string, error) { return e.text("explore_system") }
func (e *Engine) CommandSystem() (string, error) { return e.text("command_system") }

// Planner renders the task-generation prompt.
func (e *Engine) Planner(goal, instructions string) (string, error) {
	return e.expand("planner", map[string]string{"Goal": goal, "Instructions": instructions})
}

// PlannerSystem returns the planner system prompt.
func (e *Engine) PlannerSystem() (string, error) { return e.text("planner_system") }

// candidateData feeds the judge/synthesis/convergence prompts.
type candidateData struct {
	Task       task.Task
	Criteria   string
	Candidates []Candidate
	Patterns   string
	Divergent  string
}

// Candidate is one competitor's diff as shown to the judge or synthesiser.
type Candidate struct {
	ID       string
	Strategy string
	Score    int
	Diff     string
}

// Judge renders the winner-selection prompt over candidate diffs.
func (e *Engine) Judge(t task.Task, candidates []Candidate) (string, error) {
	d := candidateData{Task: t, Candidates: candidates}
	d.Criteria = newTaskData(t, "", "").Criteria
	return e.expand("judge", d)
}

// JudgeSystem returns the judge system prompt.
func (e *Engine) JudgeSystem() (string, error) { return e.text("judge_system") }

// ConvergenceAnalysis renders the semantic convergence-analysis prompt.
func (e *Engine) ConvergenceAnalysis(t task.Task, candidates []Candidate) (string, error) {
	d := candidateData{Task: t, Candidates: candidates}
	return e.expand("convergence", d)
}

// Synthesis renders the merged-implementation prompt.
func (e *Engine) Synthesis(t task.Task, candidates []Candidate, patterns, divergent []string) (string, error) {
	d := candidateData{
		Task:       t,
		Candidates: candidates,
		Patterns:   bulleted(patterns),
		Divergent:  bulleted(divergent),
	}
	d.Criteria = newTaskData(t, "", "").Criteria
	return e.expand("synthesis", d)
}

// SynthesisSystem returns the synthesis system prompt.
func (e *Engine) SynthesisSystem() (string, error) { return e.text("synthesis_system") }

// Review renders the structured-review prompt for a persona ("" = default).
func (e *Engine) Review(t task.Task, diff, persona string) (string, error) {
	d := newTaskData(t, "", "")
	d.Extra = map[string]string{"Diff": diff, "Persona": persona}
	return e.expand("review", d)
}

// ReviewSystem returns the reviewer system prompt for a persona.
func (e *Engine) ReviewSystem(persona string) (string, error) {
	if persona != "" {
		if text, err := e.text("review_system_" + persona); err == nil {
			return text, nil
		}
		// Unknown persona falls back to the generic reviewer with a tag line.
		base, err := e.text("review_system")
		if err != nil {
			return "", err
		}
		return base + "\nReview with particular attention to: " + persona + ".\n", nil
	}
	return e.text("review_system")
}

// Fixer renders the review-fix prompt.
func (e *Engine) Fixer(t task.Task, feedback string) (string, error) {
	d := newTaskData(t, "", "")
	d.Extra = map[string]string{"Feedback": feedback}
	return e.expand("fixer", d)
}

// CommitMessage renders the commit-message generation prompt.
func (e *Engine) CommitMessage(t task.Task, diff string) (string, error) {
	d := newTaskData(t, "", "")
	d.Extra = map[string]string{"Diff": diff}
	return e.expand("commit_message", d)
}

func bulleted(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "- %s\n", item)
	}
	return sb.String()
}
