// Package compare contrasts a human Kinney assessment with the AI's
// assessment of the same risk.
package compare

import (
	"fmt"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// ScoreTolerance is the raw-score gap under which two assessments are
// considered close.
const ScoreTolerance = 10

// Direction tells which side scored a factor higher.
type Direction string

const (
	DirectionIdentical   Direction = "identical"
	DirectionHumanHigher Direction = "human_higher"
	DirectionAIHigher    Direction = "ai_higher"
)

// Agreement is the overall verdict of a single-risk comparison.
type Agreement string

const (
	AgreementStrong   Agreement = "strong"
	AgreementModerate Agreement = "moderate"
	AgreementWeak     Agreement = "weak"
)

// FactorDiff compares one value across the two assessments.
type FactorDiff struct {
	Human      int       `json:"human"`
	AI         int       `json:"ia"`
	Difference int       `json:"difference"`
	Direction  Direction `json:"assessment"`
}

func diff(human, ai int) FactorDiff {
	d := FactorDiff{Human: human, AI: ai, Difference: human - ai, Direction: DirectionIdentical}
	switch {
	case d.Difference > 0:
		d.Direction = DirectionHumanHigher
	case d.Difference < 0:
		d.Direction = DirectionAIHigher
		d.Difference = -d.Difference
	}
	return d
}

// FieldMatches records per-field equality, the view the client highlights.
type FieldMatches struct {
	G              bool `json:"G"`
	F              bool `json:"F"`
	P              bool `json:"P"`
	Classification bool `json:"classification"`
}

// Comparison is the full result of Compare.
type Comparison struct {
	G                    FactorDiff         `json:"G"`
	F                    FactorDiff         `json:"F"`
	P                    FactorDiff         `json:"P"`
	Score                FactorDiff         `json:"score"`
	Matches              FieldMatches       `json:"matches"`
	ClassificationsMatch bool               `json:"classifications_match"`
	Agreement            Agreement          `json:"agreement_level"`
	AgreementMessage     string             `json:"agreement_message"`
	MaxDivergence        *scoring.Dimension `json:"max_divergence_factor"`
	Recommendations      []string           `json:"recommendations"`
}

// Compare contrasts a human assessment with an AI assessment. Classifications
// are taken from the assessments as given.
func Compare(human, ai scoring.Assessment) Comparison {
	c := Comparison{
		G:                    diff(human.G, ai.G),
		F:                    diff(human.F, ai.F),
		P:                    diff(human.P, ai.P),
		Score:                diff(human.RawScore, ai.RawScore),
		ClassificationsMatch: human.Classification == ai.Classification,
		Recommendations:      []string{},
	}
	c.Matches = FieldMatches{
		G:              c.G.Difference == 0,
		F:              c.F.Difference == 0,
		P:              c.P.Difference == 0,
		Classification: c.ClassificationsMatch,
	}

	near := c.Score.Difference <= ScoreTolerance
	switch {
	case c.ClassificationsMatch && near:
		c.Agreement = AgreementStrong
		c.AgreementMessage = "L'analyse humaine et l'IA sont en accord."
	case c.ClassificationsMatch:
		c.Agreement = AgreementModerate
		c.AgreementMessage = "Les classifications concordent mais les scores diffèrent significativement."
	case near:
		c.Agreement = AgreementModerate
		c.AgreementMessage = "Les scores sont proches mais les classifications diffèrent (zone limite)."
	default:
		c.Agreement = AgreementWeak
		c.AgreementMessage = "Divergence significative entre l'analyse humaine et l'IA. Une revue est recommandée."
	}

	// First dimension wins on ties, in G, F, P order.
	best := 0
	for _, d := range scoring.Dimensions {
		if fd := c.factor(d); fd.Difference > best {
			best = fd.Difference
			dim := d
			c.MaxDivergence = &dim
		}
	}

	if !c.ClassificationsMatch {
		switch {
		case human.Classification == scoring.ClassLow:
			c.Recommendations = append(c.Recommendations,
				"L'IA évalue ce risque plus sévèrement. Vérifiez si certains impacts n'ont pas été sous-estimés.")
		case human.Classification == scoring.ClassHigh:
			c.Recommendations = append(c.Recommendations,
				"L'IA évalue ce risque moins sévèrement. Vérifiez si des mesures de mitigation existantes n'ont pas été prises en compte.")
		}
	}
	for _, d := range scoring.Dimensions {
		if fd := c.factor(d); fd.Difference >= 2 {
			c.Recommendations = append(c.Recommendations,
				fmt.Sprintf("Écart important sur la %s (%d points). %s", d.Name(), fd.Difference, reviewHint[d]))
		}
	}
	return c
}

var reviewHint = map[scoring.Dimension]string{
	scoring.DimensionG: "Revoyez l'impact potentiel.",
	scoring.DimensionF: "Revoyez la fréquence d'exposition.",
	scoring.DimensionP: "Revoyez la vraisemblance.",
}

func (c Comparison) factor(d scoring.Dimension) FactorDiff {
	switch d {
	case scoring.DimensionG:
		return c.G
	case scoring.DimensionF:
		return c.F
	default:
		return c.P
	}
}

// ─── PROJECT LEVEL ────────────────────────────────────────────────────────────

// ProjectAgreementLevel grades agreement for one risk inside a project-wide
// AI analysis.
type ProjectAgreementLevel string

const (
	ProjectAgreementHigh   ProjectAgreementLevel = "high"
	ProjectAgreementMedium ProjectAgreementLevel = "medium"
	ProjectAgreementLow    ProjectAgreementLevel = "low"
)

// ProjectAgreement grades a raw score gap and a classification match.
// A gap of at most 10 with matching classes is high, at most 25 is medium,
// anything else is low.
func ProjectAgreement(scoreDiff int, classificationsMatch bool) ProjectAgreementLevel {
	if scoreDiff < 0 {
		scoreDiff = -scoreDiff
	}
	switch {
	case scoreDiff <= ScoreTolerance && classificationsMatch:
		return ProjectAgreementHigh
	case scoreDiff <= 25:
		return ProjectAgreementMedium
	default:
		return ProjectAgreementLow
	}
}
