// Package questionbank loads Kinney question banks from the embedded default
// or from a YAML/JSON file. It is the deserialisation boundary: records are
// decoded strictly and validated here, and only well-formed banks reach the
// scoring engine.
package questionbank

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

const defaultFile = "builtin/kinney.yaml"

// ─── FILE SCHEMA ──────────────────────────────────────────────────────────────

type fileBank struct {
	Version   string         `yaml:"version" json:"version" validate:"required"`
	Questions []fileQuestion `yaml:"questions" json:"questions" validate:"required,min=1,dive"`
}

type fileQuestion struct {
	ID        string       `yaml:"id" json:"id" validate:"required"`
	Dimension string       `yaml:"dimension" json:"dimension" validate:"required,oneof=G F P"`
	Text      string       `yaml:"text" json:"text" validate:"required"`
	Weight    float64      `yaml:"weight" json:"weight" validate:"gte=0"`
	Sectors   []string     `yaml:"sectors" json:"sectors" validate:"omitempty,dive,required"`
	Options   []fileOption `yaml:"options" json:"options" validate:"required,min=2,dive"`
}

type fileOption struct {
	ID           string `yaml:"id" json:"id" validate:"required"`
	Label        string `yaml:"label" json:"label" validate:"required"`
	Contribution int    `yaml:"contribution" json:"contribution" validate:"min=1,max=5"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ─── LOADERS ──────────────────────────────────────────────────────────────────

var loadDefault = sync.OnceValues(func() (*scoring.QuestionBank, error) {
	data, err := builtinFS.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("questionbank.Default: %w", err)
	}
	return ParseYAML(data)
})

// Default returns the embedded question bank. It is parsed once; the
// returned bank is shared and must not be modified.
func Default() (*scoring.QuestionBank, error) {
	return loadDefault()
}

// LoadFile reads a bank from disk. Files ending in .json are decoded as JSON;
// everything else as YAML.
func LoadFile(path string) (*scoring.QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questionbank.LoadFile: %w", err)
	}
	var bank *scoring.QuestionBank
	if strings.EqualFold(filepath.Ext(path), ".json") {
		bank, err = ParseJSON(data)
	} else {
		bank, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("questionbank.LoadFile %s: %w", path, err)
	}
	return bank, nil
}

// Load returns the bank at path, or the embedded default when path is empty.
func Load(path string) (*scoring.QuestionBank, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// ParseYAML decodes a YAML bank. Unknown keys are an error.
func ParseYAML(data []byte) (*scoring.QuestionBank, error) {
	var fb fileBank
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fb); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", scoring.ErrInvalidQuestionBank)
		}
		return nil, fmt.Errorf("%w: %v", scoring.ErrInvalidQuestionBank, err)
	}
	return fb.build()
}

// ParseJSON decodes a JSON bank. Unknown keys are an error.
func ParseJSON(data []byte) (*scoring.QuestionBank, error) {
	var fb fileBank
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fb); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", scoring.ErrInvalidQuestionBank)
		}
		return nil, fmt.Errorf("%w: %v", scoring.ErrInvalidQuestionBank, err)
	}
	return fb.build()
}

func (fb fileBank) build() (*scoring.QuestionBank, error) {
	if err := validate.Struct(fb); err != nil {
		return nil, fmt.Errorf("%w: %v", scoring.ErrInvalidQuestionBank, err)
	}

	questions := make([]scoring.Question, len(fb.Questions))
	for i, fq := range fb.Questions {
		opts := make([]scoring.Option, len(fq.Options))
		for j, fo := range fq.Options {
			opts[j] = scoring.Option{ID: fo.ID, Label: fo.Label, Contribution: fo.Contribution}
		}
		questions[i] = scoring.Question{
			ID:        fq.ID,
			Dimension: scoring.Dimension(fq.Dimension),
			Text:      fq.Text,
			Options:   opts,
			Weight:    fq.Weight,
			Sectors:   fq.Sectors,
		}
	}

	bank, err := scoring.NewQuestionBank(fb.Version, questions)
	if err != nil {
		return nil, err
	}
	if !bank.Covers() {
		return nil, fmt.Errorf("%w: every dimension needs at least one question", scoring.ErrInvalidQuestionBank)
	}
	return bank, nil
}
