package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
	"github.com/nyashahama/kinney-risk-backend/internal/worker"
	"github.com/nyashahama/kinney-risk-backend/internal/workflow"
)

// ─── SHAPES ───────────────────────────────────────────────────────────────────

type riskResponse struct {
	ID                  uuid.UUID           `json:"id"`
	Position            int32               `json:"position"`
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	Category            string              `json:"category"`
	Type                string              `json:"type"`
	Initial             scoring.Assessment  `json:"initial"`
	ClassificationLabel string              `json:"classification_label"`
	RequiresMitigation  bool                `json:"requires_mitigation"`
	Mitigation          string              `json:"mitigation,omitempty"`
	Impacted            []string            `json:"impacted,omitempty"`
	Residual            *scoring.Assessment `json:"residual,omitempty"`
	Delta               *scoring.Delta      `json:"delta,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func newRiskResponse(r db.ProjectRisk) riskResponse {
	initial := store.RiskAssessment(r)
	resp := riskResponse{
		ID:                  r.ID,
		Position:            r.Position,
		Title:               r.Title,
		Description:         r.Description,
		Category:            r.Category,
		Type:                r.RiskType,
		Initial:             initial,
		ClassificationLabel: initial.Classification.Label(),
		RequiresMitigation:  initial.Classification != scoring.ClassLow,
		Mitigation:          r.Mitigation.String,
		Impacted:            r.Impacted,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if residual, ok := store.ResidualAssessment(r); ok {
		d := scoring.Diff(initial, residual)
		resp.Residual = &residual
		resp.Delta = &d
	}
	return resp
}

// projectResponse is a project with its risks and the wizard stage derived
// from them. Pending lists the positions (0-based) still blocking completion.
type projectResponse struct {
	db.Project
	Stage   workflow.Stage `json:"stage"`
	Pending []int          `json:"pending"`
	Risks   []riskResponse `json:"risks"`
}

func newProjectResponse(p db.Project, rows []db.ProjectRisk) projectResponse {
	wr := store.WorkflowRisks(rows)
	risks := make([]riskResponse, len(rows))
	for i, r := range rows {
		risks[i] = newRiskResponse(r)
	}
	pending := workflow.Pending(wr)
	if pending == nil {
		pending = []int{}
	}
	return projectResponse{
		Project: p,
		Stage:   workflow.StageOf(wr),
		Pending: pending,
		Risks:   risks,
	}
}

// ─── OWNERSHIP ────────────────────────────────────────────────────────────────

// ownedProject loads the {projectID} URL param and checks the caller owns it.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request) (db.Project, bool) {
	id, ok := urlUUID(w, r, "projectID")
	if !ok {
		return db.Project{}, false
	}
	project, err := s.q.GetProjectByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "project not found")
		return db.Project{}, false
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get project: %w", err))
		return db.Project{}, false
	}
	if project.UserID != currentUser(r).UID {
		respondErr(w, http.StatusForbidden, "project belongs to another user")
		return db.Project{}, false
	}
	return project, true
}

// respondProject writes p with its current risks.
func (s *Server) respondProject(w http.ResponseWriter, r *http.Request, status int, p db.Project) {
	rows, err := s.q.ListProjectRisks(r.Context(), p.ID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list project risks: %w", err))
		return
	}
	respond(w, status, newProjectResponse(p, rows))
}

// emitIfCompleted fires project.completed on the draft → completed edge.
func (s *Server) emitIfCompleted(r *http.Request, before, after db.Project) {
	if before.Status == workflow.StatusCompleted || after.Status != workflow.StatusCompleted {
		return
	}
	rows, err := s.q.ListProjectRisks(r.Context(), after.ID)
	if err != nil {
		s.logger.Warn("events: count risks failed", "project_id", after.ID, "error", err, logField(r))
	}
	s.bus.Emit(events.ProjectCompleted, events.ProjectPayload{
		ProjectID: after.ID,
		UserID:    after.UserID,
		Title:     after.Title,
		Risks:     len(rows),
	})
}

// ─── POST /projects ───────────────────────────────────────────────────────────

type createProjectRequest struct {
	Title          string `json:"analysis_title" validate:"required,min=5,max=200"`
	ProjectType    string `json:"project_type" validate:"required,oneof=project entity"`
	Description    string `json:"description" validate:"required,min=10"`
	EntityType     string `json:"entity_type" validate:"required_if=ProjectType entity"`
	EntityServices string `json:"entity_services"`
	Sector         string `json:"sector"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decode(w, r, &req) {
		return
	}

	project, err := s.q.CreateProject(r.Context(), db.CreateProjectParams{
		ID:             uuid.New(),
		UserID:         currentUser(r).UID,
		Title:          req.Title,
		ProjectType:    req.ProjectType,
		Description:    req.Description,
		EntityType:     req.EntityType,
		EntityServices: req.EntityServices,
		Sector:         req.Sector,
		Status:         workflow.StatusDraft,
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create project: %w", err))
		return
	}
	respond(w, http.StatusCreated, newProjectResponse(project, nil))
}

// ─── GET /projects ────────────────────────────────────────────────────────────

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.q.ListProjectsByUser(r.Context(), currentUser(r).UID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list projects: %w", err))
		return
	}
	if projects == nil {
		projects = []db.Project{}
	}
	respond(w, http.StatusOK, map[string]any{"items": projects})
}

// ─── GET /projects/{projectID} ────────────────────────────────────────────────

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	s.respondProject(w, r, http.StatusOK, project)
}

// ─── PUT /projects/{projectID} ────────────────────────────────────────────────

// updateProjectRequest edits the context of a project. The project type is
// fixed at creation.
type updateProjectRequest struct {
	Title          string `json:"analysis_title" validate:"required,min=5,max=200"`
	Description    string `json:"description" validate:"required,min=10"`
	EntityType     string `json:"entity_type"`
	EntityServices string `json:"entity_services"`
	Sector         string `json:"sector"`
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	var req updateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	if project.ProjectType == "entity" && req.EntityType == "" {
		respondErr(w, http.StatusBadRequest, "validation failed: entity_type: required for entity projects")
		return
	}

	updated, err := s.q.UpdateProject(r.Context(), db.UpdateProjectParams{
		ID:             project.ID,
		Title:          req.Title,
		Description:    req.Description,
		EntityType:     req.EntityType,
		EntityServices: req.EntityServices,
		Sector:         req.Sector,
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("update project: %w", err))
		return
	}
	s.respondProject(w, r, http.StatusOK, updated)
}

// ─── DELETE /projects/{projectID} ─────────────────────────────────────────────

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	if err := s.q.DeleteProject(r.Context(), project.ID); err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("delete project: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── POST /projects/{projectID}/duplicate ─────────────────────────────────────

type duplicateRequest struct {
	NewTitle string `json:"new_title" validate:"omitempty,min=5,max=200"`
}

// handleDuplicateProject copies a project and its risks. Without new_title the
// copy is named after the source with a bumped _vN suffix. An empty body is
// accepted.
func (s *Server) handleDuplicateProject(w http.ResponseWriter, r *http.Request) {
	src, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	var req duplicateRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	project, err := s.store.DuplicateProject(r.Context(), src, currentUser(r).UID, req.NewTitle)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("duplicate project: %w", err))
		return
	}
	s.respondProject(w, r, http.StatusCreated, project)
}

// ─── POST /projects/{projectID}/risks ─────────────────────────────────────────

// addRiskRequest scores a risk either from questionnaire answers or from
// direct G/F/P values. Answers win when both are sent.
type addRiskRequest struct {
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description" validate:"required,min=10"`
	Category    string       `json:"category" validate:"required"`
	Type        string       `json:"type" validate:"required"`
	Answers     []answerItem `json:"answers" validate:"omitempty,dive"`
	G           int          `json:"G" validate:"omitempty,min=1,max=5"`
	F           int          `json:"F" validate:"omitempty,min=1,max=5"`
	P           int          `json:"P" validate:"omitempty,min=1,max=5"`
}

func (s *Server) handleAddRisk(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	var req addRiskRequest
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
		Sector:      project.Sector,
	}

	var (
		assessment scoring.Assessment
		answers    []scoring.Answer
		err        error
	)
	switch {
	case len(req.Answers) > 0:
		answers = scoring.DedupeAnswers(toAnswers(req.Answers))
		assessment, err = scoring.EvaluateRisk(risk, answers, s.bank)
		if err != nil {
			respondScoringErr(w, err)
			return
		}
	case req.G != 0 && req.F != 0 && req.P != 0:
		assessment, err = scoring.NewAssessment(req.G, req.F, req.P)
		if err != nil {
			respondErr(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		respondErr(w, http.StatusBadRequest, "either answers or G, F and P are required")
		return
	}

	created, updated, err := s.store.AddRisk(r.Context(), project.ID, store.RiskParams{
		Title:      req.Title,
		Risk:       risk,
		Assessment: assessment,
		Answers:    answers,
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("add risk: %w", err))
		return
	}
	s.emitIfCompleted(r, project, updated)

	respond(w, http.StatusCreated, map[string]any{
		"risk":           newRiskResponse(created),
		"project_status": updated.Status,
	})
}

// ─── PUT /projects/{projectID}/risks/{riskID}/mitigation ──────────────────────

type mitigationRequest struct {
	Text         string                  `json:"text" validate:"required"`
	Impacted     []string                `json:"impacted" validate:"required,min=1,dive,oneof=G F P"`
	AnswersByDim map[string][]answerItem `json:"answers_by_dim" validate:"dive,keys,oneof=G F P,endkeys,dive"`
}

// handleUpdateMitigation records the measure taken against a risk and its
// residual assessment. Only impacted factors are re-evaluated.
func (s *Server) handleUpdateMitigation(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	riskID, ok := urlUUID(w, r, "riskID")
	if !ok {
		return
	}
	var req mitigationRequest
	if !decode(w, r, &req) {
		return
	}

	existing, err := s.q.GetProjectRisk(r.Context(), db.GetProjectRiskParams{ID: riskID, ProjectID: project.ID})
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "risk not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get risk: %w", err))
		return
	}

	impacted := make([]scoring.Dimension, 0, len(req.Impacted))
	for _, d := range scoring.Dimensions {
		for _, raw := range req.Impacted {
			if raw == string(d) {
				impacted = append(impacted, d)
				break
			}
		}
	}
	answers := make(map[scoring.Dimension][]scoring.Answer, len(req.AnswersByDim))
	for k, items := range req.AnswersByDim {
		answers[scoring.Dimension(k)] = scoring.DedupeAnswers(toAnswers(items))
	}

	residual, err := scoring.EvaluateResidual(store.RiskAssessment(existing), impacted, answers, s.bank)
	if err != nil {
		respondScoringErr(w, err)
		return
	}

	risk, updated, err := s.store.UpdateMitigation(r.Context(), project.ID, riskID, store.MitigationParams{
		Text:     req.Text,
		Impacted: impacted,
		Residual: residual,
		Answers:  answers,
	})
	if errors.Is(err, store.ErrRiskNotFound) {
		respondErr(w, http.StatusNotFound, "risk not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("update mitigation: %w", err))
		return
	}
	original := store.RiskAssessment(existing)
	s.bus.Emit(events.ResidualCreated, events.AnalysisPayload{
		AnalysisID: risk.ID,
		UserID:     project.UserID,
		Assessment: residual,
		Parent:     &original,
	})
	s.emitIfCompleted(r, project, updated)

	respond(w, http.StatusOK, map[string]any{
		"risk":           newRiskResponse(risk),
		"project_status": updated.Status,
	})
}

// ─── DELETE /projects/{projectID}/risks/{riskID} ──────────────────────────────

func (s *Server) handleDeleteRisk(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	riskID, ok := urlUUID(w, r, "riskID")
	if !ok {
		return
	}

	updated, err := s.store.DeleteRisk(r.Context(), project.ID, riskID)
	if errors.Is(err, store.ErrRiskNotFound) {
		respondErr(w, http.StatusNotFound, "risk not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("delete risk: %w", err))
		return
	}
	s.emitIfCompleted(r, project, updated)
	s.respondProject(w, r, http.StatusOK, updated)
}

// ─── AI ANALYSIS ──────────────────────────────────────────────────────────────

type aiAnalysisResponse struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	Status      string          `json:"status"`
	Results     json.RawMessage `json:"results,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func newAIAnalysisResponse(a db.AiAnalysis) aiAnalysisResponse {
	resp := aiAnalysisResponse{
		ID:        a.ID,
		ProjectID: a.ProjectID,
		Status:    a.Status,
		Results:   rawJSON(a.Results),
		Summary:   rawJSON(a.Summary),
		Error:     a.ErrorMessage.String,
		CreatedAt: a.CreatedAt,
	}
	if a.CompletedAt.Valid {
		t := a.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

// aiAnalysisStatus is 202 while the job is queued or running.
func aiAnalysisStatus(a db.AiAnalysis) int {
	if a.Status == db.AIStatusPending || a.Status == db.AIStatusProcessing {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// ─── POST /projects/{projectID}/ai-analysis ───────────────────────────────────

// handleRequestAIAnalysis queues an AI analysis of every project risk and
// returns 202 at once. Poll GET /ai-analysis for the result; an email is sent
// to the caller when it is ready. A second request while one is in flight
// returns the in-flight analysis.
func (s *Server) handleRequestAIAnalysis(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	user := currentUser(r)

	analysis, err := s.store.RequestAIAnalysis(r.Context(), project.ID, user.UID, user.Email)
	var incomplete *store.IncompleteProjectError
	switch {
	case errors.Is(err, store.ErrAIAnalysisInProgress):
		respond(w, http.StatusAccepted, newAIAnalysisResponse(analysis))
		return
	case errors.As(err, &incomplete):
		respond(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"risks":   incomplete.Risks,
			"pending": incomplete.Pending,
		})
		return
	case err != nil:
		s.respondInternalErr(w, r, fmt.Errorf("request ai analysis: %w", err))
		return
	}

	if err := s.worker.Enqueue(r.Context(), analysis.ID); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			s.logger.Warn("worker: queue full, poller will pick up",
				"ai_analysis_id", analysis.ID, logField(r))
		} else {
			s.logger.Error("worker: enqueue failed",
				"ai_analysis_id", analysis.ID, "error", err, logField(r))
		}
	}

	respond(w, http.StatusAccepted, newAIAnalysisResponse(analysis))
}

// ─── GET /projects/{projectID}/ai-analysis ────────────────────────────────────

func (s *Server) handleGetAIAnalysis(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}

	analysis, err := s.q.GetLatestAIAnalysis(r.Context(), project.ID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "no ai analysis requested for this project")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get ai analysis: %w", err))
		return
	}
	respond(w, aiAnalysisStatus(analysis), newAIAnalysisResponse(analysis))
}
