package api

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/nyashahama/kinney-risk-backend/internal/auth"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// RiskCategories are the accepted risk categories.
var RiskCategories = []string{"Projet/Programme", "Industriel", "Qualité"}

// RiskTypes are the accepted risk types.
var RiskTypes = []string{"Commercial", "Financier", "Technique", "Cyber & SSI"}

// Sectors are the target sectors offered by the client. Sector is free text
// on the wire; this list only feeds the pickers.
var Sectors = []string{
	"Mobilité et Transport",
	"Agriculture",
	"Technologie",
	"Innovation",
	"Startup",
	"TPE",
	"PME",
	"ETI",
}

// kinneyScale labels each factor value.
var kinneyScale = map[scoring.Dimension][]string{
	scoring.DimensionG: {"Faible gravité", "Gravité légère", "Gravité moyenne", "Gravité importante", "Gravité très élevée"},
	scoring.DimensionF: {"Faible exposition", "Exposition occasionnelle", "Exposition régulière", "Exposition fréquente", "Exposition très élevée"},
	scoring.DimensionP: {"Faible probabilité", "Probabilité légère", "Probabilité moyenne", "Probabilité importante", "Probabilité très élevée"},
}

// validateRiskContext checks category and type against the catalogs.
func validateRiskContext(category, riskType string) error {
	if !slices.Contains(RiskCategories, category) {
		return fmt.Errorf("invalid category %q, accepted values: %v", category, RiskCategories)
	}
	if !slices.Contains(RiskTypes, riskType) {
		return fmt.Errorf("invalid type %q, accepted values: %v", riskType, RiskTypes)
	}
	return nil
}

// ─── GET /constants ───────────────────────────────────────────────────────────

type classBand struct {
	Label  string `json:"label"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
	Action string `json:"action"`
}

type constantsResponse struct {
	Categories      []string                             `json:"categories"`
	Types           []string                             `json:"types"`
	Sectors         []string                             `json:"sectors"`
	Classifications map[scoring.Classification]classBand `json:"classifications"`
	Scale           map[scoring.Dimension]map[int]string `json:"kinney_scale"`
	MaxRawScore     int                                  `json:"max_score"`
}

func (s *Server) handleConstants(w http.ResponseWriter, r *http.Request) {
	scale := make(map[scoring.Dimension]map[int]string, len(kinneyScale))
	for d, labels := range kinneyScale {
		scale[d] = make(map[int]string, len(labels))
		for i, l := range labels {
			scale[d][i+1] = l
		}
	}

	respond(w, http.StatusOK, constantsResponse{
		Categories: RiskCategories,
		Types:      RiskTypes,
		Sectors:    Sectors,
		Classifications: map[scoring.Classification]classBand{
			scoring.ClassLow:      {Label: scoring.ClassLow.Label(), Min: 1, Max: 25, Action: scoring.ClassLow.Action()},
			scoring.ClassModerate: {Label: scoring.ClassModerate.Label(), Min: 26, Max: 50, Action: scoring.ClassModerate.Action()},
			scoring.ClassHigh:     {Label: scoring.ClassHigh.Label(), Min: 51, Max: scoring.MaxRawScore, Action: scoring.ClassHigh.Action()},
		},
		Scale:       scale,
		MaxRawScore: scoring.MaxRawScore,
	})
}

// ─── GET /ia/compliance ───────────────────────────────────────────────────────

func (s *Server) handleIACompliance(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"llm": map[string]string{
			"provider": "OpenAI-compatible (Groq par défaut), Anthropic en secours",
			"notes":    "L'IA est une aide. La décision finale appartient à l'utilisateur.",
		},
		"methodology": map[string]any{
			"name": "Kinney",
			"classification": map[string]string{
				scoring.ClassLow.Label():      "1-25",
				scoring.ClassModerate.Label(): "26-50",
				scoring.ClassHigh.Label():     "51-125",
			},
		},
		"disclaimer": "Ce service IA est fourni à titre d'assistance. Les utilisateurs restent responsables des décisions et validations de risques.",
	})
}

// ─── GET /profile ─────────────────────────────────────────────────────────────

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	count, err := s.q.CountAnalysesByUser(r.Context(), u.UID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("count analyses: %w", err))
		return
	}

	respond(w, http.StatusOK, struct {
		auth.User
		AnalysesCount int64 `json:"analyses_count"`
	}{User: u, AnalysesCount: count})
}
