// Package workflow derives the stage of a risk-analysis project from its risks.
//
// The stage is never stored as a free-standing field that could drift: it is
// recomputed from the risks every time one is added, scored or mitigated.
package workflow

import "github.com/nyashahama/kinney-risk-backend/internal/scoring"

// MinRisks is the number of risks a project needs before it can complete.
const MinRisks = 4

// Stage is a step of the assessment wizard.
type Stage string

const (
	StageIdle                  Stage = "idle"
	StageRisksCollected        Stage = "risks_collected"
	StageRisksScored           Stage = "risks_scored"
	StageMitigationsInProgress Stage = "mitigations_in_progress"
	StageComplete              Stage = "complete"
)

// Project statuses persisted on the projects table.
const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
)

// Mitigation is one measure taken against a risk, with the factors it claims
// to reduce and the residual assessment computed after it.
type Mitigation struct {
	Text     string
	Impacted []scoring.Dimension
	Residual *scoring.Assessment
}

// Risk is the workflow view of a project risk: its initial assessment, if
// scored, and its mitigations.
type Risk struct {
	Initial     *scoring.Assessment
	Mitigations []Mitigation
}

// Mitigated reports whether the risk has at least one measure that impacts a
// dimension and carries a residual assessment.
func (r Risk) Mitigated() bool {
	for _, m := range r.Mitigations {
		if len(m.Impacted) > 0 && m.Residual != nil {
			return true
		}
	}
	return false
}

// RequiresMitigation reports whether the risk must be mitigated before the
// project can complete. Low risks are exempt.
func RequiresMitigation(r Risk) bool {
	return r.Initial != nil && r.Initial.Classification != scoring.ClassLow
}

// StageOf returns the wizard stage for a set of risks.
func StageOf(risks []Risk) Stage {
	if len(risks) == 0 {
		return StageIdle
	}
	if len(risks) < MinRisks {
		return StageRisksCollected
	}

	anyMitigated := false
	for _, r := range risks {
		if r.Initial == nil {
			return StageRisksCollected
		}
		if r.Mitigated() {
			anyMitigated = true
		}
	}

	if len(Pending(risks)) == 0 {
		return StageComplete
	}
	if !anyMitigated {
		return StageRisksScored
	}
	return StageMitigationsInProgress
}

// Pending returns the indices of the risks still blocking completion: unscored
// risks and non-Low risks without a mitigation.
func Pending(risks []Risk) []int {
	var out []int
	for i, r := range risks {
		if r.Initial == nil || (RequiresMitigation(r) && !r.Mitigated()) {
			out = append(out, i)
		}
	}
	return out
}

// Status maps a stage onto the project status column.
func Status(s Stage) string {
	if s == StageComplete {
		return StatusCompleted
	}
	return StatusDraft
}
