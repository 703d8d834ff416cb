package application

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
	"github.com/kenpal-inc/convergent/internal/infrastructure/logger"
	apperrors "github.com/kenpal-inc/convergent/pkg/errors"
)

// runTimestampLayout names run directories. Colons are avoided for
// filesystem portability; the instant is still ISO-ordered.
const runTimestampLayout = "2006-01-02T15-04-05Z"

// resolveRunDir picks the run directory: a fresh timestamped one for new
// runs, the named or latest one for resume.
func resolveRunDir(opts Options) (string, error) {
	runsDir := filepath.Join(opts.ProjectDir, config.StateDirName, "runs")

	if opts.Resume {
		if opts.RunDir != "" {
			if _, err := os.Stat(opts.RunDir); err != nil {
				return "", apperrors.NewNotFoundError("run directory " + opts.RunDir)
			}
			return opts.RunDir, nil
		}
		latest, err := LatestRunDir(opts.ProjectDir)
		if err != nil {
			return "", err
		}
		return latest, nil
	}

	runDir := filepath.Join(runsDir, time.Now().UTC().Format(runTimestampLayout))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	// Refresh the latest symlink; a failure is cosmetic.
	latestLink := filepath.Join(opts.ProjectDir, config.StateDirName, "latest")
	_ = os.Remove(latestLink)
	_ = os.Symlink(runDir, latestLink)

	return runDir, nil
}

// LatestRunDir resolves the most recent run directory, preferring the
// latest symlink and falling back to a directory scan.
func LatestRunDir(projectDir string) (string, error) {
	latestLink := filepath.Join(projectDir, config.StateDirName, "latest")
	if target, err := os.Readlink(latestLink); err == nil {
		if _, err := os.Stat(target); err == nil {
			return target, nil
		}
	}

	runsDir := filepath.Join(projectDir, config.StateDirName, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil || len(entries) == 0 {
		return "", apperrors.NewNotFoundError("no runs under " + runsDir)
	}

	// Directory names are ISO-ordered, so the lexically last one is newest.
	newest := ""
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() > newest {
			newest = entry.Name()
		}
	}
	if newest == "" {
		return "", apperrors.NewNotFoundError("no runs under " + runsDir)
	}
	return filepath.Join(runsDir, newest), nil
}

// newRunLogger builds the run logger (file JSON + stderr console).
func newRunLogger(runDir, level string, verbose bool) (*zap.Logger, func(), error) {
	return logger.NewRunLogger(runDir, level, verbose)
}
