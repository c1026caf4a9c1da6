// Package ai defines the interface for AI-generated Kinney assessments and
// provides OpenAI-compatible (Groq, DeepSeek, OpenAI) and Anthropic backed
// implementations.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

var (
	// ErrUnavailable means the provider could not be reached or refused the
	// request. The API maps it to 503.
	ErrUnavailable = errors.New("ai: service unavailable")

	// ErrMalformedResponse means the provider answered but the content could
	// not be turned into a valid assessment. The API maps it to 502.
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// Result is the structured output of a successful Assess call.
type Result struct {
	G int `json:"G"`
	F int `json:"F"`
	P int `json:"P"`

	// LLMClassification is the band the model itself announced. It is kept for
	// display only; the authoritative classification is derived from G×F×P.
	LLMClassification string `json:"llm_classification,omitempty"`

	Causes          []string `json:"causes"`
	Recommendations []string `json:"recommendations"`
	Justification   string   `json:"justification"`

	// Provider names the backend that produced the result.
	Provider string `json:"provider,omitempty"`
}

// Assessment derives the Kinney assessment from the AI's factors.
func (r Result) Assessment() (scoring.Assessment, error) {
	return scoring.NewAssessment(r.G, r.F, r.P)
}

// Assessor is the interface the API and the worker use to obtain an
// independent AI assessment of a risk. Tests inject a stub.
type Assessor interface {
	// Assess scores one risk description. Implementations must be safe to
	// call concurrently. Errors wrap ErrUnavailable or ErrMalformedResponse.
	Assess(ctx context.Context, risk scoring.RiskInput) (Result, error)
}

// ─── PROMPT ───────────────────────────────────────────────────────────────────

const systemPrompt = `Tu es un expert en gestion des risques utilisant la méthode Kinney.

## Échelles Kinney
- Gravité (G): 1=Négligeable, 2=Faible, 3=Modérée, 4=Grave, 5=Catastrophique
- Fréquence (F): 1=Rare, 2=Occasionnel, 3=Fréquent, 4=Très fréquent, 5=Permanent
- Probabilité (P): 1=Improbable, 2=Peu probable, 3=Probable, 4=Très probable, 5=Quasi certain

## Classification (Score = G × F × P)
- Faible: 1-25 → Mesures à long terme
- Modéré: 26-50 → Mesures à court/moyen terme
- Élevé: 51-125 → Mesures immédiates requises

Fournis une analyse détaillée: les valeurs G, F, P justifiées, au moins 2 causes racines
et au moins 3 recommandations actionnables.

Réponds STRICTEMENT en JSON (rien d'autre) avec ce format exact:
{
  "G": 4,
  "F": 3,
  "P": 2,
  "llm_classification": "Modéré",
  "causes": ["..."],
  "recommendations": ["..."],
  "justification": "Explication brève du choix des valeurs G, F, P"
}`

func buildPrompt(r scoring.RiskInput) string {
	var sb strings.Builder
	sb.WriteString("## Risque à analyser\n")
	fmt.Fprintf(&sb, "- Description: %s\n", r.Description)
	fmt.Fprintf(&sb, "- Catégorie: %s\n", r.Category)
	fmt.Fprintf(&sb, "- Type: %s\n", r.Type)
	fmt.Fprintf(&sb, "- Secteur: %s\n", r.Sector)
	return sb.String()
}

// ─── RESPONSE PARSING ─────────────────────────────────────────────────────────

// factor accepts 4 or "4"; models are not always consistent.
type factor int

func (f *factor) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("factor %s is not an integer", b)
	}
	*f = factor(n)
	return nil
}

type resultJSON struct {
	G                 *factor  `json:"G"`
	F                 *factor  `json:"F"`
	P                 *factor  `json:"P"`
	LLMClassification string   `json:"llm_classification"`
	Causes            []string `json:"causes"`
	Recommendations   []string `json:"recommendations"`
	Justification     string   `json:"justification"`
}

// parseResult extracts the JSON object between the first '{' and the last '}'
// of the model output, so surrounding prose or markdown fences are ignored.
func parseResult(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return Result{}, fmt.Errorf("%w: no JSON object in output (raw: %.200s)", ErrMalformedResponse, text)
	}

	var parsed resultJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v (raw: %.200s)", ErrMalformedResponse, err, text)
	}

	out := Result{
		LLMClassification: parsed.LLMClassification,
		Causes:            parsed.Causes,
		Recommendations:   parsed.Recommendations,
		Justification:     parsed.Justification,
	}
	for _, f := range []struct {
		name string
		v    *factor
		dst  *int
	}{{"G", parsed.G, &out.G}, {"F", parsed.F, &out.F}, {"P", parsed.P, &out.P}} {
		if f.v == nil {
			return Result{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, f.name)
		}
		if *f.v < scoring.MinFactor || *f.v > scoring.MaxFactor {
			return Result{}, fmt.Errorf("%w: %s=%d out of range [1,5]", ErrMalformedResponse, f.name, *f.v)
		}
		*f.dst = int(*f.v)
	}
	if out.Causes == nil {
		out.Causes = []string{}
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	return out, nil
}
