package main

import (
	"github.com/spf13/cobra"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

func newQuestionsCmd() *cobra.Command {
	var (
		sector    string
		dimension string
	)

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Print the question bank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bank, err := loadBank(cmd)
			if err != nil {
				return err
			}
			bank = bank.ForSector(sector)
			if dimension != "" {
				d, err := scoring.ParseDimension(dimension)
				if err != nil {
					return exitError(exitInvalidInput, "%v", err)
				}
				bank = bank.ForDimension(d)
			}
			return write(cmd, bank)
		},
	}

	cmd.Flags().StringVar(&sector, "sector", "", "Keep only the questions offered to this sector")
	cmd.Flags().StringVar(&dimension, "dimension", "", "Keep only the questions of one factor: G, F or P")
	return cmd
}
