package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
)

const (
	methodQuestionnaire = "questionnaire"
	methodResidual      = "residual"

	justificationQuestionnaire = "Calcul basé sur la moyenne pondérée des contributions par dimension (méthode Kinney)."
	justificationResidual      = "Ré-estimation post-mesure (facteurs non impactés conservés)."
)

// ─── SHAPES ───────────────────────────────────────────────────────────────────

type answerItem struct {
	QuestionID string `json:"question_id" validate:"required"`
	OptionID   string `json:"option_id" validate:"required"`
}

func toAnswers(items []answerItem) []scoring.Answer {
	out := make([]scoring.Answer, len(items))
	for i, a := range items {
		out[i] = scoring.Answer{QuestionID: a.QuestionID, OptionID: a.OptionID}
	}
	return out
}

// analysisResponse is the wire shape of a stored analysis. Export writes it
// and import reads it back, so the two stay symmetric.
type analysisResponse struct {
	ID                   uuid.UUID       `json:"id"`
	ParentID             *uuid.UUID      `json:"parent_id,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
	QuestionnaireVersion string          `json:"questionnaire_version"`
	Title                string          `json:"title,omitempty"`
	Description          string          `json:"description"`
	Category             string          `json:"category"`
	Type                 string          `json:"type"`
	Sector               string          `json:"sector"`
	Answers              json.RawMessage `json:"answers,omitempty"`
	Details              json.RawMessage `json:"details,omitempty"`
	Method               string          `json:"method"`
	scoring.Assessment
	ClassificationLabel string         `json:"classification_label,omitempty"`
	Action              string         `json:"action,omitempty"`
	Justification       string         `json:"justification,omitempty"`
	MeasureText         string         `json:"measure_text,omitempty"`
	Impacted            []string       `json:"impacted,omitempty"`
	Delta               *scoring.Delta `json:"delta,omitempty"`
}

func newAnalysisResponse(a db.Analysis) analysisResponse {
	assessment := store.AnalysisAssessment(a)
	resp := analysisResponse{
		ID:                   a.ID,
		Timestamp:            a.CreatedAt,
		QuestionnaireVersion: a.BankVersion,
		Title:                a.Title,
		Description:          a.Description,
		Category:             a.Category,
		Type:                 a.RiskType,
		Sector:               a.Sector,
		Answers:              rawJSON(a.Answers),
		Details:              rawJSON(a.Details),
		Method:               methodQuestionnaire,
		Assessment:           assessment,
		ClassificationLabel:  assessment.Classification.Label(),
		Action:               assessment.Classification.Action(),
		Justification:        justificationQuestionnaire,
	}
	if a.ParentID.Valid {
		parent := a.ParentID.UUID
		resp.ParentID = &parent
		resp.Method = methodResidual
		resp.Justification = justificationResidual
		resp.MeasureText = a.Measure
		resp.Impacted = a.Impacted
	}
	return resp
}

func rawJSON(m pqtype.NullRawMessage) json.RawMessage {
	if !m.Valid {
		return nil
	}
	return json.RawMessage(m.RawMessage)
}

// ─── GET /questionnaire/questions ─────────────────────────────────────────────

// handleGetQuestions serves the question bank, filtered by ?sector= when set.
func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.bank.ForSector(r.URL.Query().Get("sector")))
}

// ─── POST /questionnaire/analyze ──────────────────────────────────────────────

type analyzeRequest struct {
	Title       string       `json:"title" validate:"omitempty,max=200"`
	Description string       `json:"description" validate:"required,min=10"`
	Category    string       `json:"category" validate:"required"`
	Type        string       `json:"type" validate:"required"`
	Sector      string       `json:"sector"`
	Answers     []answerItem `json:"answers" validate:"required,min=1,dive"`
}

// handleAnalyze scores a questionnaire and stores it in the caller's history.
// A dimension without a usable answer yields 422 naming the dimension.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateRiskContext(req.Category, req.Type); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	risk := scoring.RiskInput{
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Sector:      req.Sector,
	}
	answers := scoring.DedupeAnswers(toAnswers(req.Answers))
	assessment, err := scoring.EvaluateRisk(risk, answers, s.bank)
	if err != nil {
		respondScoringErr(w, err)
		return
	}

	details := make(map[scoring.Dimension][]scoring.Contribution, len(scoring.Dimensions))
	for _, d := range scoring.Dimensions {
		details[d] = scoring.DimensionDetails(d, answers, s.bank)
	}

	user := currentUser(r)
	analysis, err := s.store.CreateAnalysis(r.Context(), store.AnalysisParams{
		UserID:      user.UID,
		Title:       req.Title,
		Risk:        risk,
		Assessment:  assessment,
		BankVersion: s.bank.Version,
		Answers:     answers,
		Details:     details,
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create analysis: %w", err))
		return
	}

	s.bus.Emit(events.AnalysisCreated, events.AnalysisPayload{
		AnalysisID: analysis.ID,
		UserID:     user.UID,
		Assessment: assessment,
	})

	respond(w, http.StatusCreated, newAnalysisResponse(analysis))
}

// respondScoringErr maps engine errors onto 422 with the missing dimensions.
func respondScoringErr(w http.ResponseWriter, err error) {
	var incomplete *scoring.IncompleteAssessmentError
	var missing *scoring.MissingResidualAnswersError
	switch {
	case errors.As(err, &incomplete):
		respond(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"missing": incomplete.Missing,
		})
	case errors.As(err, &missing):
		respond(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"missing": missing.Missing,
		})
	default:
		respondErr(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// ─── GET /questionnaire/analyses ──────────────────────────────────────────────

type analysisListResponse struct {
	Total  int64              `json:"total"`
	Limit  int32              `json:"limit"`
	Offset int32              `json:"offset"`
	Items  []analysisResponse `json:"items"`
}

// handleListAnalyses pages through the caller's analyses, newest first.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50, 1, 200)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0, 0, 1<<30)
	if !ok {
		return
	}

	user := currentUser(r)
	total, err := s.q.CountAnalysesByUser(r.Context(), user.UID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("count analyses: %w", err))
		return
	}
	rows, err := s.q.ListAnalysesByUser(r.Context(), db.ListAnalysesByUserParams{
		UserID: user.UID,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list analyses: %w", err))
		return
	}

	items := make([]analysisResponse, len(rows))
	for i, a := range rows {
		items[i] = newAnalysisResponse(a)
	}
	respond(w, http.StatusOK, analysisListResponse{
		Total:  total,
		Limit:  int32(limit),
		Offset: int32(offset),
		Items:  items,
	})
}

// queryInt reads an optional integer query parameter within [lo, hi].
func queryInt(w http.ResponseWriter, r *http.Request, key string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		respondErr(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer in [%d, %d]", key, lo, hi))
		return 0, false
	}
	return v, true
}

// ─── GET /questionnaire/analyses/{analysisID} ─────────────────────────────────

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, ok := s.ownedAnalysis(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, newAnalysisResponse(analysis))
}

// ownedAnalysis loads the {analysisID} URL param and checks the caller owns it.
func (s *Server) ownedAnalysis(w http.ResponseWriter, r *http.Request) (db.Analysis, bool) {
	id, ok := urlUUID(w, r, "analysisID")
	if !ok {
		return db.Analysis{}, false
	}
	return s.loadOwnedAnalysis(w, r, id)
}

func (s *Server) loadOwnedAnalysis(w http.ResponseWriter, r *http.Request, id uuid.UUID) (db.Analysis, bool) {
	analysis, err := s.q.GetAnalysisByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "analysis not found")
		return db.Analysis{}, false
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get analysis: %w", err))
		return db.Analysis{}, false
	}
	if analysis.UserID != currentUser(r).UID {
		respondErr(w, http.StatusForbidden, "analysis belongs to another user")
		return db.Analysis{}, false
	}
	return analysis, true
}

// ─── GET /questionnaire/analyses/{analysisID}/residuals ───────────────────────

type residualChainResponse struct {
	Original  analysisResponse   `json:"original"`
	Residuals []analysisResponse `json:"residuals"`
}

// handleListResiduals returns an analysis with every residual derived from
// it, each carrying its delta against the original.
func (s *Server) handleListResiduals(w http.ResponseWriter, r *http.Request) {
	parent, ok := s.ownedAnalysis(w, r)
	if !ok {
		return
	}

	rows, err := s.q.ListResidualsByParent(r.Context(), uuid.NullUUID{UUID: parent.ID, Valid: true})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list residuals: %w", err))
		return
	}

	original := store.AnalysisAssessment(parent)
	residuals := make([]analysisResponse, len(rows))
	for i, a := range rows {
		residuals[i] = newAnalysisResponse(a)
		d := scoring.Diff(original, residuals[i].Assessment)
		residuals[i].Delta = &d
	}
	respond(w, http.StatusOK, residualChainResponse{
		Original:  newAnalysisResponse(parent),
		Residuals: residuals,
	})
}

// ─── POST /questionnaire/residual ─────────────────────────────────────────────

type measureRequest struct {
	Text         string                  `json:"text" validate:"required"`
	Impacted     map[string]bool         `json:"impacted" validate:"required,dive,keys,oneof=G F P,endkeys"`
	AnswersByDim map[string][]answerItem `json:"answers_by_dim" validate:"dive,keys,oneof=G F P,endkeys,dive"`
}

type residualRequest struct {
	ParentID uuid.UUID        `json:"parent_id" validate:"required"`
	Measures []measureRequest `json:"measures" validate:"required,min=1,dive"`
}

type residualResponse struct {
	Items []analysisResponse `json:"items"`
}

// handleCreateResiduals re-evaluates an analysis once per mitigation measure.
// Non-impacted factors are carried over from the parent; impacted ones are
// recomputed from that dimension's mini-questionnaire.
func (s *Server) handleCreateResiduals(w http.ResponseWriter, r *http.Request) {
	var req residualRequest
	if !decode(w, r, &req) {
		return
	}

	parent, ok := s.loadOwnedAnalysis(w, r, req.ParentID)
	if !ok {
		return
	}
	original := store.AnalysisAssessment(parent)

	measures := make([]store.ResidualMeasure, len(req.Measures))
	for i, m := range req.Measures {
		impacted, answers := m.dimensions()
		if len(impacted) == 0 {
			respondErr(w, http.StatusBadRequest, fmt.Sprintf("measure #%d: no impacted factor", i+1))
			return
		}
		residual, err := scoring.EvaluateResidual(original, impacted, answers, s.bank)
		if err != nil {
			respondScoringErr(w, fmt.Errorf("measure #%d: %w", i+1, err))
			return
		}
		measures[i] = store.ResidualMeasure{
			Text:       m.Text,
			Impacted:   impacted,
			Assessment: residual,
			Answers:    answers,
		}
	}

	rows, err := s.store.CreateResiduals(r.Context(), parent, measures, s.bank.Version)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create residuals: %w", err))
		return
	}

	items := make([]analysisResponse, len(rows))
	for i, a := range rows {
		items[i] = newAnalysisResponse(a)
		d := scoring.Diff(original, items[i].Assessment)
		items[i].Delta = &d

		s.bus.Emit(events.ResidualCreated, events.AnalysisPayload{
			AnalysisID: a.ID,
			UserID:     a.UserID,
			Assessment: items[i].Assessment,
			Parent:     &original,
		})
	}
	respond(w, http.StatusCreated, residualResponse{Items: items})
}

// dimensions returns the impacted dimensions in G, F, P order and the answers
// keyed by dimension. Keys were validated by decode.
func (m measureRequest) dimensions() ([]scoring.Dimension, map[scoring.Dimension][]scoring.Answer) {
	var impacted []scoring.Dimension
	for _, d := range scoring.Dimensions {
		if m.Impacted[string(d)] {
			impacted = append(impacted, d)
		}
	}
	answers := make(map[scoring.Dimension][]scoring.Answer, len(m.AnswersByDim))
	for k, items := range m.AnswersByDim {
		answers[scoring.Dimension(k)] = scoring.DedupeAnswers(toAnswers(items))
	}
	return impacted, answers
}

// ─── GET /questionnaire/export ────────────────────────────────────────────────

// handleExport downloads the caller's whole history as a JSON attachment.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.q.ListAllAnalysesByUser(r.Context(), currentUser(r).UID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("export analyses: %w", err))
		return
	}

	items := make([]analysisResponse, len(rows))
	for i, a := range rows {
		items[i] = newAnalysisResponse(a)
	}
	w.Header().Set("Content-Disposition", "attachment; filename=analyses_export.json")
	respond(w, http.StatusOK, items)
}

// ─── POST /questionnaire/import ───────────────────────────────────────────────

type importRequest struct {
	Items []analysisResponse `json:"items" validate:"required"`
}

type importResponse struct {
	Status string `json:"status"`
	store.ImportResult
	Invalid int `json:"invalid"`
}

// handleImport merges a previous export into the caller's history. Items with
// an unknown ID, an out-of-range factor or an existing ID are skipped; scores
// are recomputed from G, F and P rather than trusted.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decode(w, r, &req) {
		return
	}

	user := currentUser(r)
	rows := make([]db.CreateAnalysisParams, 0, len(req.Items))
	invalid := 0
	for _, it := range req.Items {
		row, err := importRow(it)
		if err != nil {
			s.logger.Debug("import: item rejected", "id", it.ID, "error", err, logField(r))
			invalid++
			continue
		}
		rows = append(rows, row)
	}

	res, err := s.store.ImportAnalyses(r.Context(), user.UID, rows)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("import analyses: %w", err))
		return
	}
	res.Total += invalid
	res.Skipped += invalid

	respond(w, http.StatusOK, importResponse{Status: "ok", ImportResult: res, Invalid: invalid})
}

func importRow(it analysisResponse) (db.CreateAnalysisParams, error) {
	if it.ID == uuid.Nil {
		return db.CreateAnalysisParams{}, errors.New("missing id")
	}
	a, err := scoring.NewAssessment(it.G, it.F, it.P)
	if err != nil {
		return db.CreateAnalysisParams{}, err
	}
	row := db.CreateAnalysisParams{
		ID:              it.ID,
		Title:           it.Title,
		Category:        it.Category,
		RiskType:        it.Type,
		Sector:          it.Sector,
		Description:     it.Description,
		Measure:         it.MeasureText,
		Impacted:        it.Impacted,
		G:               int16(a.G),
		F:               int16(a.F),
		P:               int16(a.P),
		RawScore:        int16(a.RawScore),
		NormalizedScore: int16(a.NormalizedScore),
		Classification:  string(a.Classification),
		BankVersion:     it.QuestionnaireVersion,
		Answers:         nullRaw(it.Answers),
		Details:         nullRaw(it.Details),
		CreatedAt:       it.Timestamp,
	}
	if it.ParentID != nil {
		row.ParentID = uuid.NullUUID{UUID: *it.ParentID, Valid: true}
	}
	return row, nil
}

func nullRaw(m json.RawMessage) pqtype.NullRawMessage {
	if len(m) == 0 || string(m) == "null" {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: m, Valid: true}
}
