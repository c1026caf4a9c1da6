package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/compare"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// ─── SHAPES ───────────────────────────────────────────────────────────────────

type riskContextRequest struct {
	Description string `json:"description" validate:"required,min=10"`
	Category    string `json:"category" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Sector      string `json:"sector"`
}

func (r riskContextRequest) input() scoring.RiskInput {
	return scoring.RiskInput{
		Description: r.Description,
		Category:    r.Category,
		Type:        r.Type,
		Sector:      r.Sector,
	}
}

// iaAnalysisResponse carries the Kinney view of the AI factors. The
// classification is always derived from G×F×P; the model's own verdict is
// kept in llm_classification for display.
type iaAnalysisResponse struct {
	scoring.Assessment
	ClassificationLabel string   `json:"classification_label"`
	LLMClassification   string   `json:"llm_classification,omitempty"`
	Causes              []string `json:"causes"`
	Recommendations     []string `json:"recommendations"`
	Justification       string   `json:"justification,omitempty"`
	Provider            string   `json:"provider,omitempty"`
}

func newIAAnalysisResponse(res ai.Result, a scoring.Assessment) iaAnalysisResponse {
	return iaAnalysisResponse{
		Assessment:          a,
		ClassificationLabel: a.Classification.Label(),
		LLMClassification:   res.LLMClassification,
		Causes:              res.Causes,
		Recommendations:     res.Recommendations,
		Justification:       res.Justification,
		Provider:            res.Provider,
	}
}

// assess calls the AI and maps its failures: 503 when the provider is
// unavailable, 502 when it answered garbage.
func (s *Server) assess(w http.ResponseWriter, r *http.Request, risk scoring.RiskInput) (ai.Result, scoring.Assessment, bool) {
	res, err := s.assessor.Assess(r.Context(), risk)
	if err == nil {
		var a scoring.Assessment
		a, err = res.Assessment()
		if err == nil {
			return res, a, true
		}
		err = fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	s.logger.Warn("ai: assessment failed", "error", err, logField(r))
	switch {
	case errors.Is(err, ai.ErrMalformedResponse):
		respondErr(w, http.StatusBadGateway, "réponse IA malformée")
	default:
		respondErr(w, http.StatusServiceUnavailable, "service IA indisponible, réessayez plus tard")
	}
	return ai.Result{}, scoring.Assessment{}, false
}

// ─── POST /ia/analyze ─────────────────────────────────────────────────────────

// handleIAAnalyze returns the AI's independent Kinney assessment of a risk.
func (s *Server) handleIAAnalyze(w http.ResponseWriter, r *http.Request) {
	var req riskContextRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateRiskContext(req.Category, req.Type); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, a, ok := s.assess(w, r, req.input())
	if !ok {
		return
	}
	respond(w, http.StatusOK, newIAAnalysisResponse(res, a))
}

// ─── POST /compare ────────────────────────────────────────────────────────────

type compareRequest struct {
	riskContextRequest
	UserG int `json:"user_G" validate:"required,min=1,max=5"`
	UserF int `json:"user_F" validate:"required,min=1,max=5"`
	UserP int `json:"user_P" validate:"required,min=1,max=5"`
	// UserClassification overrides the band derived from the human factors.
	// Any known synonym is accepted (Moyen, Modéré, Eleve, ...).
	UserClassification string `json:"user_classification"`
}

type compareResponse struct {
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Type        string             `json:"type"`
	Human       scoring.Assessment `json:"human_analysis"`
	IA          iaAnalysisResponse `json:"ia_analysis"`
	Comparison  compare.Comparison `json:"comparison"`
}

// handleCompare contrasts the caller's G/F/P with the AI's assessment of the
// same risk.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateRiskContext(req.Category, req.Type); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	human, err := scoring.NewAssessment(req.UserG, req.UserF, req.UserP)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserClassification != "" {
		c, err := scoring.ParseClassification(req.UserClassification)
		if err != nil {
			respondErr(w, http.StatusBadRequest, err.Error())
			return
		}
		human.Classification = c
	}

	res, ia, ok := s.assess(w, r, req.input())
	if !ok {
		return
	}

	respond(w, http.StatusOK, compareResponse{
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Human:       human,
		IA:          newIAAnalysisResponse(res, ia),
		Comparison:  compare.Compare(human, ia),
	})
}
