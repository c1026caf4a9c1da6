// Package scoring implements the Kinney risk scoring model: G×F×P factors
// derived from weighted questionnaire answers, the 0–100 normalisation, the
// three-band classification and the residual (post-mitigation) re-evaluation.
//
// It is intentionally dependency-free: it imports nothing from internal/,
// performs no I/O and keeps no state, so every function is safe to call from
// any number of goroutines.
package scoring

import (
	"fmt"
	"strings"
)

// ─── DIMENSIONS ───────────────────────────────────────────────────────────────

// Dimension is one of the three Kinney factors a question contributes to.
type Dimension string

const (
	DimensionG Dimension = "G" // gravity (severity of the damage)
	DimensionF Dimension = "F" // frequency of exposure
	DimensionP Dimension = "P" // probability of occurrence
)

// Dimensions lists the factors in the canonical G, F, P order.
var Dimensions = []Dimension{DimensionG, DimensionF, DimensionP}

// Valid reports whether d is one of G, F or P.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionG, DimensionF, DimensionP:
		return true
	}
	return false
}

// Name returns the French display name used in reports and prompts.
func (d Dimension) Name() string {
	switch d {
	case DimensionG:
		return "Gravité"
	case DimensionF:
		return "Fréquence"
	case DimensionP:
		return "Probabilité"
	}
	return string(d)
}

// ParseDimension accepts "G", "F" or "P" (case-insensitive).
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("scoring: unknown dimension %q", s)
	}
	return d, nil
}

// ─── FACTOR BOUNDS ────────────────────────────────────────────────────────────

const (
	MinFactor = 1
	MaxFactor = 5

	// MaxRawScore is 5×5×5, the largest attainable G×F×P.
	MaxRawScore = MaxFactor * MaxFactor * MaxFactor
)

// ─── CLASSIFICATION ───────────────────────────────────────────────────────────

// Classification is the three-band risk level. The string values are the
// canonical tags stored in the database; Label gives the display text.
type Classification string

const (
	ClassLow      Classification = "Low"
	ClassModerate Classification = "Moderate"
	ClassHigh     Classification = "High"
)

// Label returns the French display label shown in the client.
func (c Classification) Label() string {
	switch c {
	case ClassLow:
		return "Faible"
	case ClassModerate:
		return "Modéré"
	case ClassHigh:
		return "Élevé"
	}
	return string(c)
}

// Action returns the recommended treatment horizon for the band.
func (c Classification) Action() string {
	switch c {
	case ClassLow:
		return "Mesures à prendre à long terme"
	case ClassModerate:
		return "Attention requise, prendre des mesures à court et moyen terme"
	case ClassHigh:
		return "Prendre des mesures immédiates"
	}
	return ""
}

// Valid reports whether c is one of the three canonical tags.
func (c Classification) Valid() bool {
	switch c {
	case ClassLow, ClassModerate, ClassHigh:
		return true
	}
	return false
}

// classificationAliases maps every label the client and the AI prompts have
// used for a band onto the canonical tag. "Moyen" and "Modéré" are the same band.
var classificationAliases = map[string]Classification{
	"low":      ClassLow,
	"faible":   ClassLow,
	"moderate": ClassModerate,
	"medium":   ClassModerate,
	"modéré":   ClassModerate,
	"modere":   ClassModerate,
	"moyen":    ClassModerate,
	"high":     ClassHigh,
	"élevé":    ClassHigh,
	"eleve":    ClassHigh,
	"elevé":    ClassHigh,
}

// ParseClassification maps a canonical tag or any known display synonym onto
// its canonical Classification.
func ParseClassification(s string) (Classification, error) {
	c, ok := classificationAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("scoring: unknown classification %q", s)
	}
	return c, nil
}

// ─── QUESTIONS & ANSWERS ──────────────────────────────────────────────────────

// Option is one answer choice of a Question.
type Option struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Contribution int    `json:"contribution"` // factor value implied by this option, 1–5
}

// Question is a single assessment item contributing to exactly one dimension.
type Question struct {
	ID        string    `json:"id"`
	Dimension Dimension `json:"dimension"`
	Text      string    `json:"text"`
	Options   []Option  `json:"options"`
	// Weight is used when several questions of the same dimension are
	// combined. Zero means the default weight of 1.
	Weight float64 `json:"weight"`
	// Sectors restricts the question to the listed sectors. Empty means the
	// question applies to every sector.
	Sectors []string `json:"sectors,omitempty"`
}

// EffectiveWeight returns Weight, or 1 when it is unset.
func (q Question) EffectiveWeight() float64 {
	if q.Weight <= 0 {
		return 1
	}
	return q.Weight
}

// Option returns the option with the given ID.
func (q Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Validate checks the question invariants: a known dimension, at least two
// options with unique IDs and every contribution in [1, 5].
func (q Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("question: id must not be empty")
	}
	if !q.Dimension.Valid() {
		return fmt.Errorf("question %q: unknown dimension %q", q.ID, q.Dimension)
	}
	if q.Weight < 0 {
		return fmt.Errorf("question %q: weight must be >= 0, got %v", q.ID, q.Weight)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q: needs at least 2 options, got %d", q.ID, len(q.Options))
	}
	seen := make(map[string]struct{}, len(q.Options))
	for i, o := range q.Options {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("question %q: options[%d] has an empty id", q.ID, i)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("question %q: duplicate option id %q", q.ID, o.ID)
		}
		seen[o.ID] = struct{}{}
		if o.Contribution < MinFactor || o.Contribution > MaxFactor {
			return fmt.Errorf("question %q: option %q contribution=%d out of range [1,5]", q.ID, o.ID, o.Contribution)
		}
	}
	return nil
}

// Answer records the option a user selected for a question.
type Answer struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
}

// DedupeAnswers keeps at most one answer per question. A later answer for the
// same question replaces an earlier one; the position of the first answer is
// kept so the output order stays stable.
func DedupeAnswers(answers []Answer) []Answer {
	idx := make(map[string]int, len(answers))
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if i, ok := idx[a.QuestionID]; ok {
			out[i] = a
			continue
		}
		idx[a.QuestionID] = len(out)
		out = append(out, a)
	}
	return out
}

// ─── ASSESSMENT ───────────────────────────────────────────────────────────────

// Assessment is the scored result for one risk. It is a value: re-evaluation
// produces a new Assessment instead of mutating an existing one.
type Assessment struct {
	G               int            `json:"G"`
	F               int            `json:"F"`
	P               int            `json:"P"`
	RawScore        int            `json:"score"`
	NormalizedScore int            `json:"normalized_score_100"`
	Classification  Classification `json:"classification"`
}

// Factor returns the value of one dimension.
func (a Assessment) Factor(d Dimension) int {
	switch d {
	case DimensionG:
		return a.G
	case DimensionF:
		return a.F
	case DimensionP:
		return a.P
	}
	return 0
}

// RiskInput is the descriptive context of a risk. The engine does not use it
// for scoring; it travels with the assessment to the persistence layer and the
// AI collaborator.
type RiskInput struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Sector      string `json:"sector,omitempty"`
}
