package verify

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
)

func newTestRunner(commands ...config.VerificationCommand) *Runner {
	return NewRunner(config.VerificationConfig{
		Commands: commands,
		Timeout:  30 * time.Second,
	}, zap.NewNop())
}

func TestRunner_WeightedScore(t *testing.T) {
	r := newTestRunner(
		config.VerificationCommand{Name: "test", Command: "true", Kind: "test"},
		config.VerificationCommand{Name: "typecheck", Command: "true", Kind: "typecheck"},
		config.VerificationCommand{Name: "lint", Command: "false", Kind: "lint"},
		config.VerificationCommand{Name: "format", Command: "true", Kind: "format"},
		config.VerificationCommand{Name: "smoke", Command: "false", Kind: "other"},
	)

	result, err := r.Run(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	// test 40 + typecheck 30 + format 15 pass; lint 15 and other 10 fail.
	if result.Score != 85 {
		t.Fatalf("score %d, want 85", result.Score)
	}
	if result.MaxScore != 110 {
		t.Fatalf("max score %d, want 110", result.MaxScore)
	}
	if result.Passed() {
		t.Fatal("suite with failures must not report passed")
	}
}

func TestRunner_AllPass(t *testing.T) {
	r := newTestRunner(
		config.VerificationCommand{Name: "echo", Command: "echo ok", Kind: "test"},
	)
	result, err := r.Run(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed() || result.Score != 40 {
		t.Fatalf("result %+v", result)
	}
	if result.Commands[0].ExitCode != 0 || result.Commands[0].Output == "" {
		t.Fatalf("command result %+v", result.Commands[0])
	}
}

func TestRunner_FailureContinuesSuite(t *testing.T) {
	r := newTestRunner(
		config.VerificationCommand{Name: "boom", Command: "exit 3", Kind: "test"},
		config.VerificationCommand{Name: "after", Command: "true", Kind: "lint"},
	)
	result, err := r.Run(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Commands) != 2 {
		t.Fatal("a failing command must not abort the suite")
	}
	if result.Commands[0].ExitCode != 3 {
		t.Fatalf("exit code %d, want 3", result.Commands[0].ExitCode)
	}
	if result.Score != 15 {
		t.Fatalf("score %d, want 15", result.Score)
	}
}

func TestRunner_EmptySuitePasses(t *testing.T) {
	r := newTestRunner()
	if r.HasCommands() {
		t.Fatal("no commands configured")
	}
	result, err := r.Run(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed() || result.Score != 0 {
		t.Fatalf("empty suite must pass with score 0: %+v", result)
	}
}

func TestRunner_TimeoutKillsCommand(t *testing.T) {
	r := NewRunner(config.VerificationConfig{
		Commands: []config.VerificationCommand{{Name: "hang", Command: "sleep 30", Kind: "test"}},
		Timeout:  200 * time.Millisecond,
	}, zap.NewNop())

	start := time.Now()
	result, err := r.Run(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the command promptly")
	}
	if result.Commands[0].Passed {
		t.Fatal("timed-out command must fail")
	}
}
