package lifecycle

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
)

// commitMessageErrorMarkers are substrings that betray an LLM error leaking
// into the commit message slot. A message containing any of them is
// replaced by the deterministic fallback.
var commitMessageErrorMarkers = []string{
	"prompt is too long",
	"rate limit",
	"overloaded",
	"api error",
	"context limit",
	"request timeout",
	"invalid_request",
}

// commitMessage asks the model for a one-line commit message and falls back
// to "implement: <title>" when the answer looks like a surfaced error.
func (l *Lifecycle) commitMessage(ctx context.Context, t task.Task, baseCommit, logDir string) string {
	fallback := "implement: " + t.Title

	diff, err := l.git.DiffVs(ctx, baseCommit)
	if err != nil {
		return fallback
	}
	promptText, err := l.prompts.CommitMessage(t, diff)
	if err != nil {
		return fallback
	}

	resp, err := l.adapter.Invoke(ctx, t.ID+":commit-message", llm.Request{
		Prompt:  promptText,
		Model:   l.cfg.ReviewModel,
		LogPath: filepath.Join(logDir, "git.log"),
	})
	if err != nil || resp == nil || !resp.Success {
		return fallback
	}

	message, ok := sanitizeCommitMessage(resp.Result)
	if !ok {
		l.logger.Warn("Generated commit message looks like an error, using fallback",
			zap.String("task", t.ID),
			zap.String("message", message),
		)
	}
	if message == "" || !ok {
		return fallback
	}
	return message
}

// sanitizeCommitMessage trims the model's answer to its first line and
// reports whether it is usable as a commit message (non-empty and free of
// error markers).
func sanitizeCommitMessage(raw string) (string, bool) {
	message := strings.TrimSpace(firstLine(raw))
	if message == "" {
		return "", false
	}
	lower := strings.ToLower(message)
	for _, marker := range commitMessageErrorMarkers {
		if strings.Contains(lower, marker) {
			return message, false
		}
	}
	return message, true
}
