package scoring

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncompleteAssessment is returned by EvaluateRisk when one or more
	// dimensions have no usable answer. The caller must re-prompt the user for
	// the missing dimension's questions.
	ErrIncompleteAssessment = errors.New("scoring: incomplete assessment")

	// ErrMissingResidualAnswers is returned by EvaluateResidual when a dimension
	// marked as impacted has no usable answer.
	ErrMissingResidualAnswers = errors.New("scoring: missing residual answers")

	// ErrInvalidFactor is returned when a G, F or P value is outside [1, 5].
	ErrInvalidFactor = errors.New("scoring: factor out of range [1,5]")

	// ErrInvalidQuestionBank wraps every question bank validation failure.
	ErrInvalidQuestionBank = errors.New("scoring: invalid question bank")
)

// IncompleteAssessmentError names the dimensions that had no answer.
// errors.Is(err, ErrIncompleteAssessment) holds for it.
type IncompleteAssessmentError struct {
	Missing []Dimension
}

func (e *IncompleteAssessmentError) Error() string {
	return fmt.Sprintf("%v: no answers for %s", ErrIncompleteAssessment, joinDimensions(e.Missing))
}

func (e *IncompleteAssessmentError) Unwrap() error { return ErrIncompleteAssessment }

// MissingResidualAnswersError names the impacted dimensions that had no answer.
// errors.Is(err, ErrMissingResidualAnswers) holds for it.
type MissingResidualAnswersError struct {
	Missing []Dimension
}

func (e *MissingResidualAnswersError) Error() string {
	return fmt.Sprintf("%v: impacted %s without answers", ErrMissingResidualAnswers, joinDimensions(e.Missing))
}

func (e *MissingResidualAnswersError) Unwrap() error { return ErrMissingResidualAnswers }

func joinDimensions(ds []Dimension) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}
