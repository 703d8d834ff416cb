package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kenpal-inc/convergent/internal/domain/review"
	"github.com/kenpal-inc/convergent/internal/domain/task"
	"github.com/kenpal-inc/convergent/internal/domain/tournament"
	"github.com/kenpal-inc/convergent/internal/infrastructure/llm"
	"github.com/kenpal-inc/convergent/internal/infrastructure/store"
	"github.com/kenpal-inc/convergent/pkg/safego"
)

var reviewSchema = json.RawMessage(`{
  "type": "object",
  "required": ["verdict", "summary"],
  "properties": {
    "verdict": {"enum": ["approved", "changes_requested", "error"]},
    "summary": {"type": "string"},
    "plan_compliance": {
      "type": "object",
      "properties": {
        "missing_steps": {"type": "array", "items": {"type": "string"}},
        "extra_changes": {"type": "array", "items": {"type": "string"}}
      }
    },
    "criteria": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["criterion", "satisfied"],
        "properties": {
          "criterion": {"type": "string"},
          "satisfied": {"type": "boolean"}
        }
      }
    },
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["severity", "description"],
        "properties": {
          "severity": {"enum": ["error", "warning", "info"]},
          "description": {"type": "string"}
        }
      }
    }
  }
}`)

// reviewPhase runs the structured review with its fix-retry loop. Returns
// approved=true when the change may be committed. A non-nil error is fatal
// for the task (verification broke mid-review); approved=false with a nil
// error means the retries were exhausted.
func (l *Lifecycle) reviewPhase(ctx context.Context, t task.Task, tr *tournament.Result, baseCommit, logDir string) (bool, error) {
	if !l.cfg.ReviewEnabled {
		return true, nil
	}

	// Shortcut: when several competitors independently agreed on the same
	// file set, that agreement stands in for a review.
	if tr != nil && tr.Convergence != nil && tr.Convergence.Ratio >= l.cfg.ReviewSkipThreshold {
		implemented := 0
		for _, c := range tr.Competitors {
			if c.Implemented {
				implemented++
			}
		}
		if implemented >= 2 {
			l.logger.Info("Review skipped on high convergence",
				zap.String("task", t.ID),
				zap.Float64("ratio", tr.Convergence.Ratio),
			)
			return true, nil
		}
	}

	if err := l.state.Set(t.ID, task.StatusInProgress, task.PhaseReview); err != nil {
		return false, err
	}
	gitLog := l.git.WithLog(filepath.Join(logDir, "git.log"))

	for attempt := 0; ; attempt++ {
		diff, err := gitLog.DiffVs(ctx, baseCommit)
		if err != nil {
			return false, fmt.Errorf("review diff: %w", err)
		}

		verdict := l.runReview(ctx, t, diff, logDir)
		l.writeReviewRecord(logDir, verdict)

		switch verdict.Verdict {
		case review.VerdictApproved:
			return true, nil
		case review.VerdictError:
			// The reviewer itself failed; blocking the task on reviewer
			// availability would punish good code for infra trouble.
			l.logger.Warn("Review unavailable, proceeding as approved",
				zap.String("task", t.ID),
				zap.String("summary", firstLine(verdict.Summary)),
			)
			return true, nil
		}

		_, _ = l.learnings.Record(t.ID, store.LearningReviewFeedback, verdict.Summary)

		if attempt >= l.cfg.ReviewMaxRetries {
			return false, nil
		}

		// Fix attempt, bracketed by diff-vs-base snapshots.
		preFix := diff
		if err := l.runFixer(ctx, t, verdict, logDir); err != nil {
			return false, err
		}
		postFix, err := gitLog.DiffVs(ctx, baseCommit)
		if err != nil {
			return false, fmt.Errorf("post-fix diff: %w", err)
		}
		if preFix == postFix {
			// Fixpoint: the fixer has nothing left to contribute; further
			// retries would loop on the same feedback.
			l.logger.Info("Review fixer produced no change, accepting as approved",
				zap.String("task", t.ID),
			)
			return true, nil
		}

		if l.verifier.HasCommands() {
			vr, verr := l.verifier.Run(ctx, l.git.Dir(), filepath.Join(logDir, "verify.log"))
			if verr != nil {
				return false, fmt.Errorf("mid-review verification: %w", verr)
			}
			if !vr.Passed() {
				_, _ = l.learnings.Record(t.ID, store.LearningVerificationFailure,
					fmt.Sprintf("review fix for %q broke verification", t.Title))
				return false, fmt.Errorf("verification failed after review fix")
			}
		}
	}
}

// runReview executes one review round: a single reviewer, or all personas
// in parallel with a deterministic merge.
func (l *Lifecycle) runReview(ctx context.Context, t task.Task, diff, logDir string) review.Review {
	if !l.cfg.MultiReviewer || len(l.cfg.Personas) == 0 {
		return l.reviewOnce(ctx, t, diff, "", logDir)
	}

	results := make([]review.Review, len(l.cfg.Personas))
	dones := make([]<-chan struct{}, len(l.cfg.Personas))
	for i, persona := range l.cfg.Personas {
		i, persona := i, persona
		dones[i] = safego.GoDone(l.logger, "reviewer-"+persona, func() {
			results[i] = l.reviewOnce(ctx, t, diff, persona, logDir)
		})
	}
	for _, done := range dones {
		<-done
	}
	return review.Merge(results)
}

func (l *Lifecycle) reviewOnce(ctx context.Context, t task.Task, diff, persona, logDir string) review.Review {
	errReview := func(detail string) review.Review {
		return review.Review{Verdict: review.VerdictError, Summary: detail, Persona: persona}
	}

	promptText, err := l.prompts.Review(t, diff, persona)
	if err != nil {
		return errReview(err.Error())
	}
	system, err := l.prompts.ReviewSystem(persona)
	if err != nil {
		return errReview(err.Error())
	}

	label := t.ID + ":review"
	logName := "review.log"
	if persona != "" {
		label += ":" + persona
		logName = "review-" + persona + ".log"
	}

	resp, err := l.adapter.Invoke(ctx, label, llm.Request{
		Prompt:       promptText,
		SystemPrompt: system,
		Model:        l.cfg.ReviewModel,
		Schema:       reviewSchema,
		LogPath:      filepath.Join(logDir, logName),
	})
	if err != nil || resp == nil || !resp.Success {
		detail := "review call failed"
		if resp != nil && resp.Result != "" {
			detail = resp.Result
		}
		return errReview(detail)
	}
	if resp.Structured == nil {
		return errReview("review produced no structured output")
	}

	var rv review.Review
	if err := json.Unmarshal(resp.Structured, &rv); err != nil {
		return errReview(fmt.Sprintf("review output malformed: %v", err))
	}
	rv.Persona = persona
	return rv
}

// runFixer asks the model to address review feedback in the main tree.
func (l *Lifecycle) runFixer(ctx context.Context, t task.Task, verdict review.Review, logDir string) error {
	promptText, err := l.prompts.Fixer(t, verdict.FeedbackText())
	if err != nil {
		return err
	}

	resp, err := l.adapter.Invoke(ctx, t.ID+":review-fix", llm.Request{
		Prompt:  promptText,
		Model:   l.cfg.Model,
		Tools:   []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
		Timeout: l.cfg.CallTimeout,
		WorkDir: l.git.Dir(),
		LogPath: filepath.Join(logDir, "review-fix.log"),
	})
	if err != nil {
		return err
	}
	if resp != nil && !resp.Success {
		// A failed fixer is indistinguishable from a no-op fix; let the
		// snapshot comparison decide what happens next.
		l.logger.Warn("Review fixer call failed",
			zap.String("task", t.ID),
			zap.String("detail", firstLine(resp.Result)),
		)
	}
	return nil
}

func (l *Lifecycle) writeReviewRecord(logDir string, rv review.Review) {
	data, err := json.MarshalIndent(rv, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(logDir, "review.json"), data, 0o644)
}
