// Package scm provides the thin source-control verbs the orchestrator
// consumes: head commit, stage-and-commit, hard reset, and worktree
// lifecycle. It shells out to the git binary; the orchestrator's own state
// directory is excluded from every destructive or diffing operation.
package scm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/infrastructure/config"
)

// Git runs git verbs against one repository root.
type Git struct {
	dir     string
	logPath string // optional command log (logs/task-*/git.log)
	logger  *zap.Logger
}

// NewGit binds a client to the repository at dir.
func NewGit(dir string, logger *zap.Logger) *Git {
	return &Git{
		dir:    dir,
		logger: logger.With(zap.String("component", "scm")),
	}
}

// WithLog returns a clone that appends every command and its output to path.
func (g *Git) WithLog(path string) *Git {
	clone := *g
	clone.logPath = path
	return &clone
}

// WithDir returns a clone operating on a different tree (a worktree).
func (g *Git) WithDir(dir string) *Git {
	clone := *g
	clone.dir = dir
	return &clone
}

// Dir returns the tree this client operates on.
func (g *Git) Dir() string { return g.dir }

// run executes git with args in g.dir and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimRight(stdout.String(), "\n")

	if g.logPath != "" {
		g.appendLog(args, out, stderr.String(), err)
	}

	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = out
		}
		return out, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, detail)
	}
	return out, nil
}

func (g *Git) appendLog(args []string, stdout, stderr string, err error) {
	f, ferr := os.OpenFile(g.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "$ git %s\n", strings.Join(args, " "))
	if stdout != "" {
		fmt.Fprintln(f, stdout)
	}
	if stderr != "" {
		fmt.Fprintln(f, stderr)
	}
	if err != nil {
		fmt.Fprintf(f, "! %v\n", err)
	}
}

// IsRepo reports whether dir is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// HeadCommit returns the current HEAD commit hash.
func (g *Git) HeadCommit(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name, or "" when detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", nil
	}
	return out, nil
}

// CreateBranch creates and checks out a new branch at HEAD.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-b", name)
	return err
}

// CommitAll stages everything except the orchestrator's state directory and
// commits with message. Returns the new commit hash. Fails when there is
// nothing to commit. The state dir must never enter history: a later hard
// reset would otherwise wipe the run's own records.
func (g *Git) CommitAll(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "add", "-A", "--", ".", ":(exclude)"+config.StateDirName); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.HeadCommit(ctx)
}

// HardReset resets the tree to commit and removes untracked files, keeping
// the orchestrator's state directory untouched.
func (g *Git) HardReset(ctx context.Context, commit string) error {
	if _, err := g.run(ctx, "reset", "--hard", commit); err != nil {
		return err
	}
	_, err := g.run(ctx, "clean", "-fd", "--exclude", config.StateDirName)
	return err
}

// WorktreeAdd creates a detached worktree for commit at path.
func (g *Git) WorktreeAdd(ctx context.Context, path, commit string) error {
	_, err := g.run(ctx, "worktree", "add", "--detach", path, commit)
	return err
}

// WorktreeRemove force-removes the worktree at path.
func (g *Git) WorktreeRemove(ctx context.Context, path string) error {
	_, err := g.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// ChangedFiles lists files changed in the tree relative to HEAD: tracked
// modifications plus untracked files, excluding the orchestrator directory.
func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		name := strings.TrimSpace(line[3:])
		// Rename entries look like "old -> new"; the new path is what changed.
		if _, after, found := strings.Cut(name, " -> "); found {
			name = after
		}
		name = strings.Trim(name, `"`)
		if name == "" || isStatePath(name) {
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

// Diff returns the unified diff of the tree vs HEAD, untracked files
// included, excluding the orchestrator directory.
func (g *Git) Diff(ctx context.Context) (string, error) {
	return g.DiffVs(ctx, "HEAD")
}

// DiffVs diffs the tree against an arbitrary commit. Used for the
// review-fix snapshots, which compare against the captured base commit —
// the fixer may have produced intermediate commits, so HEAD is not a
// stable reference point.
func (g *Git) DiffVs(ctx context.Context, commit string) (string, error) {
	tracked, err := g.run(ctx, "diff", commit, "--", ".", ":(exclude)"+config.StateDirName)
	if err != nil {
		return "", err
	}

	// Untracked files don't show in diff HEAD; render them with --no-index.
	untracked, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return tracked, nil
	}

	var sb strings.Builder
	sb.WriteString(tracked)
	for _, name := range strings.Split(untracked, "\n") {
		if name == "" || isStatePath(name) {
			continue
		}
		// diff --no-index exits 1 on difference; ignore the error.
		part, _ := g.run(ctx, "diff", "--no-index", "--", "/dev/null", name)
		if part != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part)
		}
	}
	return sb.String(), nil
}

// DiffLineCount counts added plus deleted lines in a unified diff, skipping
// file-header lines.
func DiffLineCount(diff string) int {
	count := 0
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			count++
		}
	}
	return count
}

func isStatePath(name string) bool {
	return name == config.StateDirName || strings.HasPrefix(name, config.StateDirName+"/")
}
