package scoring

import (
	"fmt"
	"math"
)

// ─── THRESHOLDS ───────────────────────────────────────────────────────────────

// Band cut points. The normalised thresholds are the raw ones scaled by
// 100/125, so classifying on either scale gives the same band for every raw
// score in [1, 125].
const (
	lowRawMax      = 25
	moderateRawMax = 50

	lowNormalizedMax      = 20
	moderateNormalizedMax = 40
)

// ─── CORE FUNCTIONS ───────────────────────────────────────────────────────────

// clamp constrains a factor value to [1, 5].
func clamp(v int) int {
	if v < MinFactor {
		return MinFactor
	}
	if v > MaxFactor {
		return MaxFactor
	}
	return v
}

// roundHalfUp rounds x to the nearest integer, halves going up.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Contribution is one answered question's share in a dimension value.
type Contribution struct {
	QuestionID   string  `json:"question_id"`
	OptionID     string  `json:"option_id"`
	Contribution int     `json:"contribution"`
	Weight       float64 `json:"poids"`
}

// DimensionDetails returns the answered questions that count towards d, in
// answer order after last-write-wins deduplication. Answers that reference an
// unknown question, an option of another question, or a question of another
// dimension are skipped.
func DimensionDetails(d Dimension, answers []Answer, bank *QuestionBank) []Contribution {
	var out []Contribution
	for _, a := range DedupeAnswers(answers) {
		q, ok := bank.Question(a.QuestionID)
		if !ok || q.Dimension != d {
			continue
		}
		o, ok := q.Option(a.OptionID)
		if !ok {
			continue
		}
		out = append(out, Contribution{
			QuestionID:   q.ID,
			OptionID:     o.ID,
			Contribution: o.Contribution,
			Weight:       q.EffectiveWeight(),
		})
	}
	return out
}

// ComputeDimensionValue aggregates the answers for one dimension into a factor
// value: the weighted mean of the selected contributions, rounded half-up and
// clamped into [1, 5].
//
// The boolean is false when no answered question belongs to d. Callers must
// treat that as "insufficient data", never as a zero or a default.
func ComputeDimensionValue(d Dimension, answers []Answer, bank *QuestionBank) (int, bool) {
	var sum, weights float64
	for _, c := range DimensionDetails(d, answers, bank) {
		sum += float64(c.Contribution) * c.Weight
		weights += c.Weight
	}
	if weights <= 0 {
		return 0, false
	}
	return clamp(roundHalfUp(sum / weights)), true
}

// RawScore returns G × F × P. Inputs are expected in [1, 5]; the result is
// then in [1, 125].
func RawScore(g, f, p int) int {
	return g * f * p
}

// NormalizeTo100 rescales a raw score onto 0–100: round(raw / 125 × 100),
// clamped. The computation is done in integers: raw×100/125 = raw×4/5, so
// round-half-up is (8×raw + 5) / 10. 8×raw is even, so no value ever sits
// exactly on a half.
func NormalizeTo100(raw int) int {
	if raw <= 0 {
		return 0
	}
	n := (8*raw + 5) / 10
	if n > 100 {
		return 100
	}
	return n
}

// Classify maps a normalised score onto its band.
//
//	<= 20 → Low
//	<= 40 → Moderate
//	 > 40 → High
func Classify(normalized int) Classification {
	switch {
	case normalized <= lowNormalizedMax:
		return ClassLow
	case normalized <= moderateNormalizedMax:
		return ClassModerate
	default:
		return ClassHigh
	}
}

// ClassifyRaw maps a raw G×F×P score onto its band using the raw cut points
// 25 and 50. It agrees with Classify(NormalizeTo100(raw)) for every raw score.
func ClassifyRaw(raw int) Classification {
	switch {
	case raw <= lowRawMax:
		return ClassLow
	case raw <= moderateRawMax:
		return ClassModerate
	default:
		return ClassHigh
	}
}

// NewAssessment derives the raw score, normalised score and classification
// from a G, F, P triple. Each factor must be in [1, 5].
func NewAssessment(g, f, p int) (Assessment, error) {
	for _, v := range [...]struct {
		d Dimension
		v int
	}{{DimensionG, g}, {DimensionF, f}, {DimensionP, p}} {
		if v.v < MinFactor || v.v > MaxFactor {
			return Assessment{}, fmt.Errorf("%w: %s=%d", ErrInvalidFactor, v.d, v.v)
		}
	}
	raw := RawScore(g, f, p)
	normalized := NormalizeTo100(raw)
	return Assessment{
		G:               g,
		F:               f,
		P:               p,
		RawScore:        raw,
		NormalizedScore: normalized,
		Classification:  Classify(normalized),
	}, nil
}

// EvaluateRisk scores one answered questionnaire. The risk description is not
// used by the computation; it is accepted so callers pass the full context of
// the evaluation in one place.
//
// Returns an *IncompleteAssessmentError when any of G, F, P has no answered
// question. Missing dimensions are never defaulted.
func EvaluateRisk(_ RiskInput, answers []Answer, bank *QuestionBank) (Assessment, error) {
	values := make(map[Dimension]int, len(Dimensions))
	var missing []Dimension
	for _, d := range Dimensions {
		v, ok := ComputeDimensionValue(d, answers, bank)
		if !ok {
			missing = append(missing, d)
			continue
		}
		values[d] = v
	}
	if len(missing) > 0 {
		return Assessment{}, &IncompleteAssessmentError{Missing: missing}
	}
	return NewAssessment(values[DimensionG], values[DimensionF], values[DimensionP])
}

// EvaluateResidual re-scores a risk after a mitigation measure. Dimensions in
// impacted are recomputed from answersByDimension[d] (evaluated against the
// bank's questions for that dimension only); every other dimension is carried
// over from original unchanged.
//
// A residual may come out higher than the original: re-assessment can reveal a
// worse factor, and the engine reports that rather than clamping it.
func EvaluateResidual(original Assessment, impacted []Dimension, answersByDimension map[Dimension][]Answer, bank *QuestionBank) (Assessment, error) {
	values := map[Dimension]int{
		DimensionG: original.G,
		DimensionF: original.F,
		DimensionP: original.P,
	}

	var missing []Dimension
	seen := make(map[Dimension]bool, len(impacted))
	for _, d := range impacted {
		if !d.Valid() {
			return Assessment{}, fmt.Errorf("scoring: unknown dimension %q", d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true

		answers := answersByDimension[d]
		if len(answers) == 0 {
			missing = append(missing, d)
			continue
		}
		v, ok := ComputeDimensionValue(d, answers, bank.ForDimension(d))
		if !ok {
			missing = append(missing, d)
			continue
		}
		values[d] = v
	}
	if len(missing) > 0 {
		return Assessment{}, &MissingResidualAnswersError{Missing: missing}
	}
	return NewAssessment(values[DimensionG], values[DimensionF], values[DimensionP])
}

// ─── AGGREGATE HELPERS ────────────────────────────────────────────────────────

// Delta is the change from an original assessment to a residual one.
// Negative values are improvements.
type Delta struct {
	G               int  `json:"G"`
	F               int  `json:"F"`
	P               int  `json:"P"`
	RawScore        int  `json:"score"`
	NormalizedScore int  `json:"normalized_score_100"`
	ClassChanged    bool `json:"classification_changed"`
}

// Improved reports whether the raw score went down.
func (d Delta) Improved() bool { return d.RawScore < 0 }

// Diff returns residual minus original for every field.
func Diff(original, residual Assessment) Delta {
	return Delta{
		G:               residual.G - original.G,
		F:               residual.F - original.F,
		P:               residual.P - original.P,
		RawScore:        residual.RawScore - original.RawScore,
		NormalizedScore: residual.NormalizedScore - original.NormalizedScore,
		ClassChanged:    residual.Classification != original.Classification,
	}
}
