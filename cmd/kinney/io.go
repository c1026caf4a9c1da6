package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nyashahama/kinney-risk-backend/internal/questionbank"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// loadBank reads the --bank flag.
func loadBank(cmd *cobra.Command) (*scoring.QuestionBank, error) {
	path, _ := cmd.Flags().GetString("bank")
	bank, err := questionbank.Load(path)
	if err != nil {
		return nil, exitError(exitLoadFailure, "failed to load question bank: %v", err)
	}
	return bank, nil
}

// readInput decodes a YAML or JSON file into dst; "-" reads stdin. Unknown
// keys are rejected so typos in answer files surface.
func readInput(cmd *cobra.Command, path string, dst any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return exitError(exitLoadFailure, "failed to read %s: %v", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(dst)
	} else {
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		err = dec.Decode(dst)
	}
	if err != nil {
		return exitError(exitInvalidInput, "failed to parse %s: %v", path, err)
	}
	return nil
}

// write encodes v on cmd's output in the --format format.
func write(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(toYAMLValue(v))
	default:
		return exitError(exitInvalidInput, "unknown format %q (want yaml or json)", format)
	}
}

// toYAMLValue routes v through its JSON form so YAML output uses the same
// keys as the API (G, F, P, normalized_score_100, ...).
func toYAMLValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := yaml.Unmarshal(b, &generic); err != nil {
		return v
	}
	return generic
}

type answerEntry struct {
	QuestionID string `yaml:"question_id" json:"question_id"`
	OptionID   string `yaml:"option_id" json:"option_id"`
}

func toAnswers(entries []answerEntry) []scoring.Answer {
	out := make([]scoring.Answer, len(entries))
	for i, e := range entries {
		out[i] = scoring.Answer{QuestionID: e.QuestionID, OptionID: e.OptionID}
	}
	return scoring.DedupeAnswers(out)
}

func parseDimensions(raw []string) ([]scoring.Dimension, error) {
	out := make([]scoring.Dimension, 0, len(raw))
	for _, r := range raw {
		d, err := scoring.ParseDimension(r)
		if err != nil {
			return nil, fmt.Errorf("impacted: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
