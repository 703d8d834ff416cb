package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Bootstrap ensures <project>/.convergent exists with a default config.yaml.
// Safe to call multiple times — never overwrites user edits.
func Bootstrap(projectDir string, logger *zap.Logger) error {
	root := filepath.Join(projectDir, StateDirName)

	dirs := []string{
		root,
		filepath.Join(root, "runs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Keep the whole state dir out of the project's history.
	ignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte("*\n"), 0o644); err != nil {
			return fmt.Errorf("write state dir gitignore: %w", err)
		}
	}

	cfgPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		logger.Debug("Config directory OK", zap.String("root", root))
		return nil
	}

	data, err := yaml.Marshal(defaultConfigDoc())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	content := append([]byte(defaultConfigHeader), data...)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	logger.Info("Bootstrap complete",
		zap.String("root", root),
		zap.String("config", cfgPath),
	)
	return nil
}

const defaultConfigHeader = `# convergent orchestrator configuration.
# Values shown are the defaults; delete anything you don't want to override.
`

// defaultConfigDoc mirrors setDefaults as a YAML document. Kept separate from
// the viper defaults so the generated file reads in config.yaml order.
func defaultConfigDoc() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":   "info",
			"verbose": false,
		},
		"llm": map[string]any{
			"binary":            "claude",
			"model":             "claude-sonnet-4-5",
			"planner_model":     "claude-opus-4-1",
			"judge_model":       "claude-sonnet-4-5",
			"call_timeout":      (20 * time.Minute).String(),
			"max_cost_per_call": 5.0,
			"max_retries":       2,
			"retry_base_wait":   (3 * time.Second).String(),
		},
		"tournament": map[string]any{
			"max_competitors":       3,
			"strategies":            []string{"pragmatist", "thorough", "deconstructor"},
			"convergence_threshold": 0.5,
			"launch_stagger":        (2 * time.Second).String(),
			"competitor_timeout":    (20 * time.Minute).String(),
		},
		"verification": map[string]any{
			"timeout": (10 * time.Minute).String(),
			"commands": []map[string]any{
				{"name": "test", "command": "npm test", "kind": "test"},
				{"name": "typecheck", "command": "npx tsc --noEmit", "kind": "typecheck"},
			},
		},
		"review": map[string]any{
			"enabled":          true,
			"max_fix_retries":  2,
			"skip_convergence": 0.8,
			"multi_reviewer":   false,
			"personas":         []string{"correctness", "maintainability"},
		},
		"budget": map[string]any{
			"max_cost": 50.0,
		},
		"orchestrator": map[string]any{
			"circuit_breaker_threshold": 3,
			"commit_changes":            true,
			"branch_prefix":             "convergent/",
		},
		"history": map[string]any{
			"enabled": true,
			"db_path": "history.db",
		},
	}
}
