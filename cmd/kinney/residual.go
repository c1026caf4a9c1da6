package main

import (
	"github.com/spf13/cobra"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// residualInput is the file read by `kinney residual`: an original G/F/P and
// the measures applied to it.
type residualInput struct {
	Original struct {
		G int `yaml:"G" json:"G"`
		F int `yaml:"F" json:"F"`
		P int `yaml:"P" json:"P"`
	} `yaml:"original" json:"original"`
	Measures []struct {
		Text         string                   `yaml:"text" json:"text"`
		Impacted     []string                 `yaml:"impacted" json:"impacted"`
		AnswersByDim map[string][]answerEntry `yaml:"answers_by_dim" json:"answers_by_dim"`
	} `yaml:"measures" json:"measures"`
}

type residualResult struct {
	Text     string              `json:"text"`
	Impacted []scoring.Dimension `json:"impacted"`
	Residual scoring.Assessment  `json:"residual"`
	Delta    scoring.Delta       `json:"delta"`
}

type residualOutput struct {
	Original  scoring.Assessment `json:"original"`
	Residuals []residualResult   `json:"residuals"`
}

func newResidualCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "residual <measures-file>",
		Short: "Re-evaluate a risk after mitigation measures (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := loadBank(cmd)
			if err != nil {
				return err
			}
			var in residualInput
			if err := readInput(cmd, args[0], &in); err != nil {
				return err
			}
			out, err := residuals(in, bank)
			if err != nil {
				return err
			}
			return write(cmd, out)
		},
	}
}

func residuals(in residualInput, bank *scoring.QuestionBank) (residualOutput, error) {
	original, err := scoring.NewAssessment(in.Original.G, in.Original.F, in.Original.P)
	if err != nil {
		return residualOutput{}, exitError(exitInvalidInput, "original: %v", err)
	}
	if len(in.Measures) == 0 {
		return residualOutput{}, exitError(exitInvalidInput, "at least one measure is required")
	}

	out := residualOutput{Original: original, Residuals: make([]residualResult, 0, len(in.Measures))}
	for i, m := range in.Measures {
		impacted, err := parseDimensions(m.Impacted)
		if err != nil {
			return residualOutput{}, exitError(exitInvalidInput, "measure #%d: %v", i+1, err)
		}
		answers := make(map[scoring.Dimension][]scoring.Answer, len(m.AnswersByDim))
		for k, entries := range m.AnswersByDim {
			d, err := scoring.ParseDimension(k)
			if err != nil {
				return residualOutput{}, exitError(exitInvalidInput, "measure #%d: %v", i+1, err)
			}
			answers[d] = toAnswers(entries)
		}

		residual, err := scoring.EvaluateResidual(original, impacted, answers, bank)
		if err != nil {
			return residualOutput{}, exitError(exitInvalidInput, "measure #%d: %v", i+1, err)
		}
		out.Residuals = append(out.Residuals, residualResult{
			Text:     m.Text,
			Impacted: impacted,
			Residual: residual,
			Delta:    scoring.Diff(original, residual),
		})
	}
	return out, nil
}
