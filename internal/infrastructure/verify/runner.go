// Package verify executes the configured verification commands inside a tree
// and folds the outcomes into a weighted score. Scores are comparable across
// competitors because every competitor runs the identical command set.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
)

// Weights by command kind. The sum over a typical suite is 100 but nothing
// depends on that; only relative ordering matters for selection.
var kindWeights = map[string]int{
	"test":      40,
	"typecheck": 30,
	"lint":      15,
	"format":    15,
	"other":     10,
}

// CommandResult is the outcome of one verification command.
type CommandResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Kind     string        `json:"kind"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a full verification pass.
type Result struct {
	Commands []CommandResult `json:"commands"`
	Score    int             `json:"score"`
	MaxScore int             `json:"max_score"`
}

// Passed reports whether every command exited zero. A suite with no
// configured commands counts as passed with score 0.
func (r *Result) Passed() bool {
	for _, c := range r.Commands {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Runner executes verification suites.
type Runner struct {
	commands []config.VerificationCommand
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRunner builds a runner for the configured command set.
func NewRunner(cfg config.VerificationConfig, logger *zap.Logger) *Runner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{
		commands: cfg.Commands,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "verify")),
	}
}

// HasCommands reports whether any verification is configured.
func (r *Runner) HasCommands() bool { return len(r.commands) > 0 }

// Run executes every command inside dir, sequentially, continuing past
// failures so the score reflects the whole suite. logPath, when set,
// receives the raw output of each command.
func (r *Runner) Run(ctx context.Context, dir, logPath string) (*Result, error) {
	result := &Result{}
	for _, vc := range r.commands {
		weight := kindWeights[vc.Kind]
		result.MaxScore += weight

		cr := r.runOne(ctx, dir, vc)
		if cr.Passed {
			result.Score += weight
		}
		result.Commands = append(result.Commands, cr)

		if logPath != "" {
			appendCommandLog(logPath, cr)
		}

		r.logger.Debug("Verification command finished",
			zap.String("name", vc.Name),
			zap.Bool("passed", cr.Passed),
			zap.Int("exit_code", cr.ExitCode),
			zap.Duration("duration", cr.Duration),
		)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}
	return result, nil
}

func (r *Runner) runOne(ctx context.Context, dir string, vc config.VerificationCommand) CommandResult {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", vc.Command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	cr := CommandResult{
		Name:     vc.Name,
		Command:  vc.Command,
		Kind:     vc.Kind,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		cr.Passed = false
		cr.ExitCode = -1
		cr.Output += fmt.Sprintf("\n(killed after %s)", r.timeout)
	case err == nil:
		cr.Passed = true
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			cr.ExitCode = exitErr.ExitCode()
		} else {
			cr.ExitCode = -1
			cr.Output += fmt.Sprintf("\n(spawn failed: %v)", err)
		}
	}
	return cr
}

func appendCommandLog(path string, cr CommandResult) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	status := "PASS"
	if !cr.Passed {
		status = fmt.Sprintf("FAIL(%d)", cr.ExitCode)
	}
	fmt.Fprintf(f, "$ %s [%s, %s]\n%s\n", cr.Command, status, cr.Duration.Round(time.Millisecond), cr.Output)
}
