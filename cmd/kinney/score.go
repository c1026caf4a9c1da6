package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// scoreInput is the answer file read by `kinney score`.
type scoreInput struct {
	Description string        `yaml:"description" json:"description"`
	Category    string        `yaml:"category" json:"category"`
	Type        string        `yaml:"type" json:"type"`
	Sector      string        `yaml:"sector" json:"sector"`
	Answers     []answerEntry `yaml:"answers" json:"answers"`
}

type scoreOutput struct {
	scoring.Assessment
	Label   string                                       `json:"classification_label"`
	Action  string                                       `json:"action"`
	Details map[scoring.Dimension][]scoring.Contribution `json:"details"`
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <answers-file>",
		Short: "Score a filled questionnaire (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := loadBank(cmd)
			if err != nil {
				return err
			}
			var in scoreInput
			if err := readInput(cmd, args[0], &in); err != nil {
				return err
			}
			out, err := score(in, bank)
			if err != nil {
				return err
			}
			return write(cmd, out)
		},
	}
}

func score(in scoreInput, bank *scoring.QuestionBank) (scoreOutput, error) {
	risk := scoring.RiskInput{
		Description: in.Description,
		Category:    in.Category,
		Type:        in.Type,
		Sector:      in.Sector,
	}
	answers := toAnswers(in.Answers)
	a, err := scoring.EvaluateRisk(risk, answers, bank.ForSector(in.Sector))
	if err != nil {
		var incomplete *scoring.IncompleteAssessmentError
		if errors.As(err, &incomplete) {
			return scoreOutput{}, exitError(exitInvalidInput, "incomplete questionnaire: no usable answer for %v", incomplete.Missing)
		}
		return scoreOutput{}, exitError(exitInvalidInput, "%v", err)
	}

	details := make(map[scoring.Dimension][]scoring.Contribution, len(scoring.Dimensions))
	for _, d := range scoring.Dimensions {
		details[d] = scoring.DimensionDetails(d, answers, bank)
	}
	return scoreOutput{
		Assessment: a,
		Label:      a.Classification.Label(),
		Action:     a.Classification.Action(),
		Details:    details,
	}, nil
}
