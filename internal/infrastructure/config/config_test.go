package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tournament.MaxCompetitors != 3 {
		t.Fatalf("max competitors %d, want 3", cfg.Tournament.MaxCompetitors)
	}
	if len(cfg.Tournament.Strategies) != 3 || cfg.Tournament.Strategies[0] != "pragmatist" {
		t.Fatalf("strategies %v", cfg.Tournament.Strategies)
	}
	if cfg.Tournament.ConvergenceThreshold != 0.5 {
		t.Fatalf("convergence threshold %v, want 0.5", cfg.Tournament.ConvergenceThreshold)
	}
	if cfg.Review.SkipConvergence != 0.8 {
		t.Fatalf("review skip %v, want 0.8", cfg.Review.SkipConvergence)
	}
	if cfg.Orchestrator.CircuitBreakerThreshold != 3 {
		t.Fatalf("breaker threshold %d, want 3", cfg.Orchestrator.CircuitBreakerThreshold)
	}
	if cfg.LLM.RetryBaseWait != 3*time.Second {
		t.Fatalf("retry base wait %v", cfg.LLM.RetryBaseWait)
	}
}

func TestLoad_ReadsProjectConfig(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, StateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "tournament:\n  max_competitors: 5\nbudget:\n  max_cost: 12.5\n"
	if err := os.WriteFile(filepath.Join(stateDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tournament.MaxCompetitors != 5 {
		t.Fatalf("override lost: %d", cfg.Tournament.MaxCompetitors)
	}
	if cfg.Budget.MaxCost != 12.5 {
		t.Fatalf("override lost: %v", cfg.Budget.MaxCost)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.Binary != "claude" {
		t.Fatalf("default lost: %q", cfg.LLM.Binary)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cases := []func(c *Config){
		func(c *Config) { c.Tournament.MaxCompetitors = 0 },
		func(c *Config) { c.Tournament.Strategies = nil },
		func(c *Config) { c.Tournament.ConvergenceThreshold = 1.5 },
		func(c *Config) { c.Budget.MaxCost = 0 },
		func(c *Config) { c.LLM.Binary = "" },
		func(c *Config) {
			c.Verification.Commands = []VerificationCommand{{Name: "x", Command: "true", Kind: "bogus"}}
		},
	}
	for i, mutate := range cases {
		cfg := *base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestBootstrap_WritesDefaultConfigOnce(t *testing.T) {
	dir := t.TempDir()
	if err := Bootstrap(dir, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, StateDirName, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("default config missing: %v", err)
	}

	// A user edit survives a second bootstrap.
	if err := os.WriteFile(cfgPath, []byte("budget:\n  max_cost: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Bootstrap(dir, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(cfgPath)
	if string(after) == string(data) {
		t.Fatal("bootstrap must not overwrite user edits")
	}

	// The generated default parses back through Load.
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("generated default config does not load: %v", err)
	}
}
