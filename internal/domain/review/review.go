// Package review models structured review results and the deterministic
// merge used in multi-reviewer mode.
package review

import "strings"

// Verdict is the reviewer's overall call.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictChangesRequested Verdict = "changes_requested"
	VerdictError            Verdict = "error"
)

// Severity grades an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one reviewer finding.
type Issue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Persona     string   `json:"persona,omitempty"`
}

// CriterionCheck records whether one acceptance criterion is satisfied.
type CriterionCheck struct {
	Criterion string `json:"criterion"`
	Satisfied bool   `json:"satisfied"`
}

// PlanCompliance captures deviations from the task plan.
type PlanCompliance struct {
	MissingSteps []string `json:"missing_steps,omitempty"`
	ExtraChanges []string `json:"extra_changes,omitempty"`
}

// Review is one structured review result.
type Review struct {
	Verdict        Verdict          `json:"verdict"`
	Summary        string           `json:"summary"`
	PlanCompliance PlanCompliance   `json:"plan_compliance"`
	Criteria       []CriterionCheck `json:"criteria,omitempty"`
	Issues         []Issue          `json:"issues,omitempty"`
	Persona        string           `json:"persona,omitempty"`
}

// blocking reports whether a review carries at least one error- or
// warning-severity issue.
func (r *Review) blocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Merge combines the results of several reviewer personas deterministically:
//
//   - The overall verdict is changes_requested iff any persona requested
//     changes AND backed it with at least one error- or warning-severity
//     issue. A persona whose only issues are info-severity is demoted to
//     approved — info alone never blocks. (Deliberate: see the project
//     design notes; a reader might expect info to block, it does not.)
//   - Missing plan steps and extra changes are unioned, first occurrence
//     order preserved.
//   - Per-criterion satisfaction is the logical AND across personas.
//   - Issues are concatenated, each tagged with its persona.
//
// Reviews with verdict "error" contribute their issues but never block.
func Merge(reviews []Review) Review {
	merged := Review{Verdict: VerdictApproved}
	if len(reviews) == 0 {
		return merged
	}

	var summaries []string
	missingSeen := map[string]bool{}
	extraSeen := map[string]bool{}
	criterion := map[string]bool{}       // criterion → AND of satisfied
	var criterionOrder []string

	for _, r := range reviews {
		if r.Verdict == VerdictChangesRequested && r.blocking() {
			merged.Verdict = VerdictChangesRequested
		}
		if r.Summary != "" {
			label := r.Summary
			if r.Persona != "" {
				label = "[" + r.Persona + "] " + label
			}
			summaries = append(summaries, label)
		}
		for _, step := range r.PlanCompliance.MissingSteps {
			if !missingSeen[step] {
				missingSeen[step] = true
				merged.PlanCompliance.MissingSteps = append(merged.PlanCompliance.MissingSteps, step)
			}
		}
		for _, change := range r.PlanCompliance.ExtraChanges {
			if !extraSeen[change] {
				extraSeen[change] = true
				merged.PlanCompliance.ExtraChanges = append(merged.PlanCompliance.ExtraChanges, change)
			}
		}
		for _, check := range r.Criteria {
			if _, seen := criterion[check.Criterion]; !seen {
				criterion[check.Criterion] = check.Satisfied
				criterionOrder = append(criterionOrder, check.Criterion)
			} else {
				criterion[check.Criterion] = criterion[check.Criterion] && check.Satisfied
			}
		}
		for _, issue := range r.Issues {
			if issue.Persona == "" {
				issue.Persona = r.Persona
			}
			merged.Issues = append(merged.Issues, issue)
		}
	}

	for _, name := range criterionOrder {
		merged.Criteria = append(merged.Criteria, CriterionCheck{Criterion: name, Satisfied: criterion[name]})
	}

	merged.Summary = strings.Join(summaries, "; ")
	return merged
}

// FeedbackText renders the merged review as prompt-ready fixer feedback.
func (r *Review) FeedbackText() string {
	var parts []string
	if r.Summary != "" {
		parts = append(parts, r.Summary)
	}
	for _, step := range r.PlanCompliance.MissingSteps {
		parts = append(parts, "Missing plan step: "+step)
	}
	for _, issue := range r.Issues {
		line := "[" + string(issue.Severity) + "] " + issue.Description
		if issue.Persona != "" {
			line = "(" + issue.Persona + ") " + line
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}
