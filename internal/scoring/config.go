package scoring

import (
	"encoding/json"
	"fmt"
)

// QuestionBank is an ordered, validated snapshot of questions. It is treated
// as immutable for the duration of an evaluation; filtering returns a new bank.
type QuestionBank struct {
	Version   string
	questions []Question
	byID      map[string]int
}

// NewQuestionBank validates every question and indexes them by ID. Duplicate
// question IDs are rejected. Call this once when the bank is loaded, not on
// every request.
func NewQuestionBank(version string, questions []Question) (*QuestionBank, error) {
	b := &QuestionBank{
		Version:   version,
		questions: make([]Question, 0, len(questions)),
		byID:      make(map[string]int, len(questions)),
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("%w: questions[%d]: %v", ErrInvalidQuestionBank, i, err)
		}
		if _, dup := b.byID[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestionBank, q.ID)
		}
		b.byID[q.ID] = len(b.questions)
		b.questions = append(b.questions, q)
	}
	return b, nil
}

// Questions returns a copy of the questions in bank order.
func (b *QuestionBank) Questions() []Question {
	out := make([]Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// Len returns the number of questions.
func (b *QuestionBank) Len() int { return len(b.questions) }

// Question looks a question up by ID.
func (b *QuestionBank) Question(id string) (Question, bool) {
	i, ok := b.byID[id]
	if !ok {
		return Question{}, false
	}
	return b.questions[i], true
}

// ForSector keeps the questions that are unrestricted or list the sector.
// An empty sector returns the whole bank.
func (b *QuestionBank) ForSector(sector string) *QuestionBank {
	if sector == "" {
		return b
	}
	return b.filter(func(q Question) bool {
		if len(q.Sectors) == 0 {
			return true
		}
		for _, s := range q.Sectors {
			if s == sector {
				return true
			}
		}
		return false
	})
}

// ForDimension keeps the questions of one dimension. Used to build the
// mini-questionnaire of a residual re-evaluation.
func (b *QuestionBank) ForDimension(d Dimension) *QuestionBank {
	return b.filter(func(q Question) bool { return q.Dimension == d })
}

// Covers reports whether every dimension has at least one question.
func (b *QuestionBank) Covers() bool {
	seen := make(map[Dimension]bool, len(Dimensions))
	for _, q := range b.questions {
		seen[q.Dimension] = true
	}
	for _, d := range Dimensions {
		if !seen[d] {
			return false
		}
	}
	return true
}

func (b *QuestionBank) filter(keep func(Question) bool) *QuestionBank {
	out := &QuestionBank{Version: b.Version, byID: make(map[string]int)}
	for _, q := range b.questions {
		if keep(q) {
			out.byID[q.ID] = len(out.questions)
			out.questions = append(out.questions, q)
		}
	}
	return out
}

// MarshalJSON renders the bank as {"version": ..., "questions": [...]},
// the shape served by GET /questionnaire/questions.
func (b *QuestionBank) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Version   string     `json:"version"`
		Questions []Question `json:"questions"`
	}{b.Version, b.questions})
}
