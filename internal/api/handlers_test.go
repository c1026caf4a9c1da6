package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/api"
	"github.com/nyashahama/kinney-risk-backend/internal/auth"
	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/questionbank"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
	"github.com/nyashahama/kinney-risk-backend/internal/workflow"
)

const testUID = "uid_alice"

// ─── STUBS ────────────────────────────────────────────────────────────────────

// stubQuerier satisfies db.Querier with in-memory state.
// Fields may be set per-test to control behaviour.
type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	analyses   map[uuid.UUID]db.Analysis
	projects   map[uuid.UUID]db.Project
	risks      map[uuid.UUID][]db.ProjectRisk
	aiAnalyses map[uuid.UUID]db.AiAnalysis // latest, keyed by project

	countErr error
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		analyses:   make(map[uuid.UUID]db.Analysis),
		projects:   make(map[uuid.UUID]db.Project),
		risks:      make(map[uuid.UUID][]db.ProjectRisk),
		aiAnalyses: make(map[uuid.UUID]db.AiAnalysis),
	}
}

func (q *stubQuerier) CountAnalysesByUser(_ context.Context, userID string) (int64, error) {
	if q.countErr != nil {
		return 0, q.countErr
	}
	var n int64
	for _, a := range q.analyses {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (q *stubQuerier) ListAnalysesByUser(_ context.Context, p db.ListAnalysesByUserParams) ([]db.Analysis, error) {
	var out []db.Analysis
	for _, a := range q.analyses {
		if a.UserID == p.UserID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (q *stubQuerier) ListAllAnalysesByUser(ctx context.Context, userID string) ([]db.Analysis, error) {
	return q.ListAnalysesByUser(ctx, db.ListAnalysesByUserParams{UserID: userID})
}

func (q *stubQuerier) GetAnalysisByID(_ context.Context, id uuid.UUID) (db.Analysis, error) {
	a, ok := q.analyses[id]
	if !ok {
		return db.Analysis{}, sql.ErrNoRows
	}
	return a, nil
}

func (q *stubQuerier) ListResidualsByParent(_ context.Context, parent uuid.NullUUID) ([]db.Analysis, error) {
	var out []db.Analysis
	for _, a := range q.analyses {
		if a.ParentID == parent {
			out = append(out, a)
		}
	}
	return out, nil
}

func (q *stubQuerier) CreateProject(_ context.Context, p db.CreateProjectParams) (db.Project, error) {
	proj := db.Project{
		ID:             p.ID,
		UserID:         p.UserID,
		Title:          p.Title,
		ProjectType:    p.ProjectType,
		Description:    p.Description,
		EntityType:     p.EntityType,
		EntityServices: p.EntityServices,
		Sector:         p.Sector,
		Status:         p.Status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	q.projects[proj.ID] = proj
	return proj, nil
}

func (q *stubQuerier) GetProjectByID(_ context.Context, id uuid.UUID) (db.Project, error) {
	p, ok := q.projects[id]
	if !ok {
		return db.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (q *stubQuerier) ListProjectsByUser(_ context.Context, userID string) ([]db.Project, error) {
	var out []db.Project
	for _, p := range q.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (q *stubQuerier) UpdateProject(_ context.Context, p db.UpdateProjectParams) (db.Project, error) {
	proj, ok := q.projects[p.ID]
	if !ok {
		return db.Project{}, sql.ErrNoRows
	}
	proj.Title = p.Title
	proj.Description = p.Description
	proj.EntityType = p.EntityType
	proj.EntityServices = p.EntityServices
	proj.Sector = p.Sector
	q.projects[p.ID] = proj
	return proj, nil
}

func (q *stubQuerier) DeleteProject(_ context.Context, id uuid.UUID) error {
	delete(q.projects, id)
	delete(q.risks, id)
	return nil
}

func (q *stubQuerier) ListProjectRisks(_ context.Context, projectID uuid.UUID) ([]db.ProjectRisk, error) {
	return q.risks[projectID], nil
}

func (q *stubQuerier) GetProjectRisk(_ context.Context, p db.GetProjectRiskParams) (db.ProjectRisk, error) {
	for _, r := range q.risks[p.ProjectID] {
		if r.ID == p.ID {
			return r, nil
		}
	}
	return db.ProjectRisk{}, sql.ErrNoRows
}

func (q *stubQuerier) GetLatestAIAnalysis(_ context.Context, projectID uuid.UUID) (db.AiAnalysis, error) {
	a, ok := q.aiAnalyses[projectID]
	if !ok {
		return db.AiAnalysis{}, sql.ErrNoRows
	}
	return a, nil
}

// stubStore satisfies api.Store and records what the handlers asked for.
type stubStore struct {
	analyses      []store.AnalysisParams
	residuals     []store.ResidualMeasure
	imported      []db.CreateAnalysisParams
	risks         []store.RiskParams
	mitigations   []store.MitigationParams
	notifyEmails  []string
	projectStatus string

	aiAnalysis db.AiAnalysis
	aiErr      error
}

func (s *stubStore) CreateAnalysis(_ context.Context, p store.AnalysisParams) (db.Analysis, error) {
	s.analyses = append(s.analyses, p)
	return db.Analysis{
		ID:              uuid.New(),
		UserID:          p.UserID,
		Title:           p.Title,
		Category:        p.Risk.Category,
		RiskType:        p.Risk.Type,
		Description:     p.Risk.Description,
		G:               int16(p.Assessment.G),
		F:               int16(p.Assessment.F),
		P:               int16(p.Assessment.P),
		RawScore:        int16(p.Assessment.RawScore),
		NormalizedScore: int16(p.Assessment.NormalizedScore),
		Classification:  string(p.Assessment.Classification),
		BankVersion:     p.BankVersion,
		CreatedAt:       time.Now(),
	}, nil
}

func (s *stubStore) CreateResiduals(_ context.Context, parent db.Analysis, measures []store.ResidualMeasure, bankVersion string) ([]db.Analysis, error) {
	s.residuals = append(s.residuals, measures...)
	out := make([]db.Analysis, len(measures))
	for i, m := range measures {
		out[i] = db.Analysis{
			ID:              uuid.New(),
			UserID:          parent.UserID,
			ParentID:        uuid.NullUUID{UUID: parent.ID, Valid: true},
			Description:     parent.Description,
			Measure:         m.Text,
			G:               int16(m.Assessment.G),
			F:               int16(m.Assessment.F),
			P:               int16(m.Assessment.P),
			RawScore:        int16(m.Assessment.RawScore),
			NormalizedScore: int16(m.Assessment.NormalizedScore),
			Classification:  string(m.Assessment.Classification),
			BankVersion:     bankVersion,
			CreatedAt:       time.Now(),
		}
	}
	return out, nil
}

func (s *stubStore) ImportAnalyses(_ context.Context, _ string, items []db.CreateAnalysisParams) (store.ImportResult, error) {
	s.imported = append(s.imported, items...)
	return store.ImportResult{Total: len(items), Imported: len(items)}, nil
}

func (s *stubStore) AddRisk(_ context.Context, projectID uuid.UUID, p store.RiskParams) (db.ProjectRisk, db.Project, error) {
	s.risks = append(s.risks, p)
	risk := db.ProjectRisk{
		ID:              uuid.New(),
		ProjectID:       projectID,
		Title:           p.Title,
		Description:     p.Risk.Description,
		Category:        p.Risk.Category,
		RiskType:        p.Risk.Type,
		G:               int16(p.Assessment.G),
		F:               int16(p.Assessment.F),
		P:               int16(p.Assessment.P),
		RawScore:        int16(p.Assessment.RawScore),
		NormalizedScore: int16(p.Assessment.NormalizedScore),
		Classification:  string(p.Assessment.Classification),
	}
	return risk, db.Project{ID: projectID, UserID: testUID, Status: s.status()}, nil
}

func (s *stubStore) UpdateMitigation(_ context.Context, projectID, riskID uuid.UUID, p store.MitigationParams) (db.ProjectRisk, db.Project, error) {
	s.mitigations = append(s.mitigations, p)
	risk := db.ProjectRisk{ID: riskID, ProjectID: projectID, Mitigation: sql.NullString{String: p.Text, Valid: true}}
	return risk, db.Project{ID: projectID, UserID: testUID, Status: s.status()}, nil
}

func (s *stubStore) DeleteRisk(_ context.Context, projectID, _ uuid.UUID) (db.Project, error) {
	return db.Project{ID: projectID, UserID: testUID, Status: s.status()}, nil
}

func (s *stubStore) DuplicateProject(_ context.Context, src db.Project, userID, newTitle string) (db.Project, error) {
	if newTitle == "" {
		newTitle = store.NextVersionTitle(src.Title)
	}
	return db.Project{ID: uuid.New(), UserID: userID, Title: newTitle, Status: workflow.StatusDraft}, nil
}

func (s *stubStore) RequestAIAnalysis(_ context.Context, projectID uuid.UUID, userID, notifyEmail string) (db.AiAnalysis, error) {
	s.notifyEmails = append(s.notifyEmails, notifyEmail)
	if s.aiAnalysis.ID == uuid.Nil {
		s.aiAnalysis = db.AiAnalysis{ID: uuid.New(), ProjectID: projectID, UserID: userID, Status: db.AIStatusPending}
	}
	return s.aiAnalysis, s.aiErr
}

func (s *stubStore) status() string {
	if s.projectStatus == "" {
		return workflow.StatusDraft
	}
	return s.projectStatus
}

// stubAssessor returns a fixed result or error.
type stubAssessor struct {
	result ai.Result
	err    error
	calls  int
}

func (a *stubAssessor) Assess(_ context.Context, _ scoring.RiskInput) (ai.Result, error) {
	a.calls++
	return a.result, a.err
}

// stubVerifier fails every token with err.
type stubVerifier struct{ err error }

func (v stubVerifier) Verify(context.Context, string) (auth.User, error) {
	return auth.User{}, v.err
}

// stubWorker records enqueued jobs.
type stubWorker struct {
	enqueued []uuid.UUID
	err      error
}

func (w *stubWorker) Enqueue(_ context.Context, id uuid.UUID) error {
	w.enqueued = append(w.enqueued, id)
	return w.err
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

type testDeps struct {
	q        *stubQuerier
	store    *stubStore
	assessor *stubAssessor
	worker   *stubWorker
	bus      *events.Bus
	handler  http.Handler
}

type testOption func(*api.Deps, *api.Config)

func withVerifier(v auth.Verifier) testOption {
	return func(d *api.Deps, _ *api.Config) { d.Verifier = v }
}

func withConfig(fn func(*api.Config)) testOption {
	return func(_ *api.Deps, c *api.Config) { fn(c) }
}

func newTestServer(t *testing.T, opts ...testOption) *testDeps {
	t.Helper()

	bank, err := questionbank.Default()
	if err != nil {
		t.Fatalf("default bank: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := &testDeps{
		q:     newStubQuerier(),
		store: &stubStore{},
		assessor: &stubAssessor{result: ai.Result{
			G: 4, F: 3, P: 3,
			LLMClassification: "Moyen",
			Causes:            []string{"cause"},
			Recommendations:   []string{"reco"},
			Justification:     "justification",
			Provider:          "stub",
		}},
		worker: &stubWorker{},
		bus:    events.NewBus(logger),
	}

	d := api.Deps{
		Q:        deps.q,
		Store:    deps.store,
		Bank:     bank,
		Assessor: deps.assessor,
		Verifier: auth.StaticVerifier{User: auth.User{UID: testUID, Email: "alice@example.com"}},
		Worker:   deps.worker,
		Bus:      deps.bus,
	}
	cfg := api.Config{Env: "development"}
	for _, opt := range opts {
		opt(&d, &cfg)
	}

	deps.handler = api.NewServer(d, cfg, logger)
	return deps
}

var authHeader = map[string]string{"Authorization": "Bearer test-token"}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rr.Body.String())
	}
}

// fullAnswers answers the default bank with G=4, F=3, P=3 (score 36, Moderate).
func fullAnswers() []map[string]string {
	return []map[string]string{
		{"question_id": "G1", "option_id": "G1_O4"},
		{"question_id": "G2", "option_id": "G2_O4"},
		{"question_id": "F1", "option_id": "F1_O3"},
		{"question_id": "F2", "option_id": "F2_O3"},
		{"question_id": "P1", "option_id": "P1_O3"},
		{"question_id": "P2", "option_id": "P2_O3"},
	}
}

func seedAnalysis(deps *testDeps, userID string, g, f, p int) db.Analysis {
	a, _ := scoring.NewAssessment(g, f, p)
	row := db.Analysis{
		ID:              uuid.New(),
		UserID:          userID,
		Description:     "Panne du serveur principal",
		Category:        "Industriel",
		RiskType:        "Technique",
		G:               int16(a.G),
		F:               int16(a.F),
		P:               int16(a.P),
		RawScore:        int16(a.RawScore),
		NormalizedScore: int16(a.NormalizedScore),
		Classification:  string(a.Classification),
		BankVersion:     "1.0.0",
		CreatedAt:       time.Now(),
	}
	deps.q.analyses[row.ID] = row
	return row
}

func seedProject(deps *testDeps, userID string) db.Project {
	p := db.Project{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Audit annuel",
		ProjectType: "project",
		Description: "Analyse des risques du projet",
		Status:      workflow.StatusDraft,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	deps.q.projects[p.ID] = p
	return p
}

func seedRisk(deps *testDeps, projectID uuid.UUID, g, f, p int) db.ProjectRisk {
	a, _ := scoring.NewAssessment(g, f, p)
	r := db.ProjectRisk{
		ID:              uuid.New(),
		ProjectID:       projectID,
		Title:           "Fuite de données",
		Description:     "Exfiltration de la base clients",
		Category:        "Industriel",
		RiskType:        "Cyber & SSI",
		G:               int16(a.G),
		F:               int16(a.F),
		P:               int16(a.P),
		RawScore:        int16(a.RawScore),
		NormalizedScore: int16(a.NormalizedScore),
		Classification:  string(a.Classification),
	}
	deps.q.risks[projectID] = append(deps.q.risks[projectID], r)
	return r
}

// ─── PUBLIC ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestConstants_ListsBands(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/constants", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Categories      []string `json:"categories"`
		MaxScore        int      `json:"max_score"`
		Classifications map[string]struct {
			Min int `json:"min"`
			Max int `json:"max"`
		} `json:"classifications"`
	}
	decodeJSON(t, rr, &resp)

	if resp.MaxScore != 125 {
		t.Errorf("max_score: got %d, want 125", resp.MaxScore)
	}
	if got := resp.Classifications["Moderate"]; got.Min != 26 || got.Max != 50 {
		t.Errorf("Moderate band: got %d-%d, want 26-50", got.Min, got.Max)
	}
	if len(resp.Categories) != 3 {
		t.Errorf("categories: got %v", resp.Categories)
	}
}

func TestGetQuestions_FiltersBySector(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/questionnaire/questions?sector=Agriculture", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Version   string `json:"version"`
		Questions []struct {
			ID string `json:"id"`
		} `json:"questions"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Version == "" {
		t.Error("version should not be empty")
	}
	if len(resp.Questions) < 6 {
		t.Errorf("expected at least the 6 unrestricted questions, got %d", len(resp.Questions))
	}
}

func TestCORS_ProductionRejectsUnknownOrigin(t *testing.T) {
	deps := newTestServer(t, withConfig(func(c *api.Config) {
		c.Env = "production"
		c.AllowedOrigins = []string{"https://app.example.com"}
	}))

	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil,
		map[string]string{"Origin": "https://evil.example.com"})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow-origin %q", got)
	}

	rr = doRequest(t, deps.handler, http.MethodGet, "/healthz", nil,
		map[string]string{"Origin": "https://app.example.com"})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin: got %q", got)
	}
}

// ─── AUTH ─────────────────────────────────────────────────────────────────────

func TestAuth_MissingTokenReturns401(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/profile", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuth_RejectedTokenReturns401(t *testing.T) {
	deps := newTestServer(t, withVerifier(stubVerifier{err: auth.ErrInvalidToken}))
	rr := doRequest(t, deps.handler, http.MethodGet, "/profile", nil, authHeader)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuth_KeySetUnavailableReturns503(t *testing.T) {
	deps := newTestServer(t, withVerifier(stubVerifier{err: fmt.Errorf("fetch: %w", auth.ErrKeySetUnavailable)}))
	rr := doRequest(t, deps.handler, http.MethodGet, "/profile", nil, authHeader)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestProfile_ReturnsUserAndCount(t *testing.T) {
	deps := newTestServer(t)
	seedAnalysis(deps, testUID, 2, 2, 2)
	seedAnalysis(deps, "someone_else", 2, 2, 2)

	rr := doRequest(t, deps.handler, http.MethodGet, "/profile", nil, authHeader)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		UID           string `json:"uid"`
		AnalysesCount int64  `json:"analyses_count"`
	}
	decodeJSON(t, rr, &resp)
	if resp.UID != testUID || resp.AnalysesCount != 1 {
		t.Errorf("got %+v", resp)
	}
}

// ─── POST /questionnaire/analyze ──────────────────────────────────────────────

func TestAnalyze_ScoresAndStores(t *testing.T) {
	deps := newTestServer(t)

	var emitted []events.AnalysisPayload
	deps.bus.On(events.AnalysisCreated, func(p any) {
		emitted = append(emitted, p.(events.AnalysisPayload))
	})

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/analyze", map[string]any{
		"description": "Panne du serveur de production",
		"category":    "Industriel",
		"type":        "Technique",
		"answers":     fullAnswers(),
	}, authHeader)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		G              int    `json:"G"`
		F              int    `json:"F"`
		P              int    `json:"P"`
		Score          int    `json:"score"`
		Normalized     int    `json:"normalized_score_100"`
		Classification string `json:"classification"`
		Method         string `json:"method"`
	}
	decodeJSON(t, rr, &resp)

	if resp.G != 4 || resp.F != 3 || resp.P != 3 {
		t.Errorf("factors: got %d/%d/%d, want 4/3/3", resp.G, resp.F, resp.P)
	}
	if resp.Score != 36 || resp.Normalized != 29 || resp.Classification != "Moderate" {
		t.Errorf("score: got %d (%d) %s", resp.Score, resp.Normalized, resp.Classification)
	}
	if resp.Method != "questionnaire" {
		t.Errorf("method: got %q", resp.Method)
	}

	if len(deps.store.analyses) != 1 {
		t.Fatalf("expected 1 stored analysis, got %d", len(deps.store.analyses))
	}
	stored := deps.store.analyses[0]
	if stored.UserID != testUID {
		t.Errorf("user: got %q", stored.UserID)
	}
	if len(stored.Details[scoring.DimensionG]) != 2 {
		t.Errorf("G details: got %d contributions", len(stored.Details[scoring.DimensionG]))
	}
	if len(emitted) != 1 || emitted[0].Assessment.RawScore != 36 {
		t.Errorf("analysis.created: got %+v", emitted)
	}
}

func TestAnalyze_MissingDimensionReturns422(t *testing.T) {
	deps := newTestServer(t)
	answers := fullAnswers()[:4] // no P answers

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/analyze", map[string]any{
		"description": "Panne du serveur de production",
		"category":    "Industriel",
		"type":        "Technique",
		"answers":     answers,
	}, authHeader)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Missing []string `json:"missing"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Missing) != 1 || resp.Missing[0] != "P" {
		t.Errorf("missing: got %v, want [P]", resp.Missing)
	}
	if len(deps.store.analyses) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestAnalyze_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"short description", map[string]any{
			"description": "court", "category": "Industriel", "type": "Technique", "answers": fullAnswers(),
		}},
		{"unknown category", map[string]any{
			"description": "Panne du serveur de production", "category": "Autre", "type": "Technique", "answers": fullAnswers(),
		}},
		{"no answers", map[string]any{
			"description": "Panne du serveur de production", "category": "Industriel", "type": "Technique", "answers": []any{},
		}},
		{"unknown field", map[string]any{
			"description": "Panne du serveur de production", "category": "Industriel", "type": "Technique",
			"answers": fullAnswers(), "extra": true,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestServer(t)
			rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/analyze", tc.body, authHeader)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

// ─── GET /questionnaire/analyses ──────────────────────────────────────────────

func TestListAnalyses_OnlyCallerRows(t *testing.T) {
	deps := newTestServer(t)
	seedAnalysis(deps, testUID, 3, 3, 3)
	seedAnalysis(deps, "someone_else", 3, 3, 3)

	rr := doRequest(t, deps.handler, http.MethodGet, "/questionnaire/analyses", nil, authHeader)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Total int64 `json:"total"`
		Limit int32 `json:"limit"`
		Items []any `json:"items"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Total != 1 || len(resp.Items) != 1 || resp.Limit != 50 {
		t.Errorf("got total=%d items=%d limit=%d", resp.Total, len(resp.Items), resp.Limit)
	}
}

func TestListAnalyses_LimitOutOfRangeReturns400(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/questionnaire/analyses?limit=500", nil, authHeader)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetAnalysis_Ownership(t *testing.T) {
	deps := newTestServer(t)
	mine := seedAnalysis(deps, testUID, 2, 2, 2)
	theirs := seedAnalysis(deps, "someone_else", 2, 2, 2)

	cases := []struct {
		path string
		want int
	}{
		{"/questionnaire/analyses/" + mine.ID.String(), http.StatusOK},
		{"/questionnaire/analyses/" + theirs.ID.String(), http.StatusForbidden},
		{"/questionnaire/analyses/" + uuid.New().String(), http.StatusNotFound},
		{"/questionnaire/analyses/not-a-uuid", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := doRequest(t, deps.handler, http.MethodGet, tc.path, nil, authHeader)
		if rr.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.want, rr.Code)
		}
	}
}

// ─── RESIDUALS ────────────────────────────────────────────────────────────────

func TestCreateResiduals_ReevaluatesImpactedOnly(t *testing.T) {
	deps := newTestServer(t)
	parent := seedAnalysis(deps, testUID, 4, 3, 3)

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/residual", map[string]any{
		"parent_id": parent.ID,
		"measures": []map[string]any{{
			"text":     "Redondance du serveur",
			"impacted": map[string]bool{"P": true, "G": false},
			"answers_by_dim": map[string]any{
				"P": []map[string]string{
					{"question_id": "P1", "option_id": "P1_O1"},
					{"question_id": "P2", "option_id": "P2_O1"},
				},
			},
		}},
	}, authHeader)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Items []struct {
			G     int    `json:"G"`
			F     int    `json:"F"`
			P     int    `json:"P"`
			Score int    `json:"score"`
			Meth  string `json:"method"`
			Delta struct {
				Score int `json:"score"`
			} `json:"delta"`
		} `json:"items"`
	}
	decodeJSON(t, rr, &resp)

	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 residual, got %d", len(resp.Items))
	}
	got := resp.Items[0]
	if got.G != 4 || got.F != 3 || got.P != 1 {
		t.Errorf("factors: got %d/%d/%d, want 4/3/1", got.G, got.F, got.P)
	}
	if got.Score != 12 || got.Meth != "residual" {
		t.Errorf("got score %d method %q", got.Score, got.Meth)
	}
	if len(deps.store.residuals) != 1 || len(deps.store.residuals[0].Impacted) != 1 {
		t.Errorf("stored measures: %+v", deps.store.residuals)
	}
}

func TestCreateResiduals_NoImpactedFactorReturns400(t *testing.T) {
	deps := newTestServer(t)
	parent := seedAnalysis(deps, testUID, 4, 3, 3)

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/residual", map[string]any{
		"parent_id": parent.ID,
		"measures": []map[string]any{{
			"text":     "Rien",
			"impacted": map[string]bool{"G": false},
		}},
	}, authHeader)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateResiduals_MissingImpactedAnswersReturns422(t *testing.T) {
	deps := newTestServer(t)
	parent := seedAnalysis(deps, testUID, 4, 3, 3)

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/residual", map[string]any{
		"parent_id": parent.ID,
		"measures": []map[string]any{{
			"text":     "Formation",
			"impacted": map[string]bool{"F": true},
		}},
	}, authHeader)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ─── IMPORT ───────────────────────────────────────────────────────────────────

func TestImport_SkipsInvalidItems(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/questionnaire/import", map[string]any{
		"items": []map[string]any{
			{"id": uuid.New(), "description": "ok", "G": 2, "F": 2, "P": 2, "timestamp": time.Now()},
			{"id": uuid.New(), "description": "out of range", "G": 9, "F": 2, "P": 2, "timestamp": time.Now()},
			{"description": "no id", "G": 2, "F": 2, "P": 2, "timestamp": time.Now()},
		},
	}, authHeader)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
		Invalid  int `json:"invalid"`
		Total    int `json:"total"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Imported != 1 || resp.Invalid != 2 || resp.Skipped != 2 || resp.Total != 3 {
		t.Errorf("got %+v", resp)
	}
	if len(deps.store.imported) != 1 || deps.store.imported[0].RawScore != 8 {
		t.Errorf("imported rows: %+v", deps.store.imported)
	}
}

// ─── AI ───────────────────────────────────────────────────────────────────────

func TestIAAnalyze_DerivesClassification(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/ia/analyze", map[string]any{
		"description": "Perte d'un fournisseur critique",
		"category":    "Projet/Programme",
		"type":        "Commercial",
	}, authHeader)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Score             int    `json:"score"`
		Classification    string `json:"classification"`
		LLMClassification string `json:"llm_classification"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Score != 36 || resp.Classification != "Moderate" || resp.LLMClassification != "Moyen" {
		t.Errorf("got %+v", resp)
	}
}

func TestIAAnalyze_ProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		result ai.Result
		err    error
		want   int
	}{
		{"unavailable", ai.Result{}, fmt.Errorf("groq: %w", ai.ErrUnavailable), http.StatusServiceUnavailable},
		{"malformed", ai.Result{}, fmt.Errorf("groq: %w", ai.ErrMalformedResponse), http.StatusBadGateway},
		{"factor out of range", ai.Result{G: 7, F: 1, P: 1}, nil, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestServer(t)
			deps.assessor.result = tc.result
			deps.assessor.err = tc.err

			rr := doRequest(t, deps.handler, http.MethodPost, "/ia/analyze", map[string]any{
				"description": "Perte d'un fournisseur critique",
				"category":    "Projet/Programme",
				"type":        "Commercial",
			}, authHeader)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCompare_HumanVersusAI(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/compare", map[string]any{
		"description":         "Perte d'un fournisseur critique",
		"category":            "Projet/Programme",
		"type":                "Commercial",
		"user_G":              2,
		"user_F":              2,
		"user_P":              2,
		"user_classification": "Modéré",
	}, authHeader)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Human struct {
			Score          int    `json:"score"`
			Classification string `json:"classification"`
		} `json:"human_analysis"`
		Comparison struct {
			Score struct {
				Difference int `json:"difference"`
			} `json:"score"`
			ClassificationsMatch bool   `json:"classifications_match"`
			Agreement            string `json:"agreement_level"`
		} `json:"comparison"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Human.Score != 8 || resp.Human.Classification != "Moderate" {
		t.Errorf("human: got %+v", resp.Human)
	}
	if resp.Comparison.Score.Difference != 28 {
		t.Errorf("score difference: got %d, want 28", resp.Comparison.Score.Difference)
	}
	if !resp.Comparison.ClassificationsMatch {
		t.Error("override to Moderate should match the AI band")
	}
	if resp.Comparison.Agreement != "moderate" {
		t.Errorf("agreement: got %q, want moderate", resp.Comparison.Agreement)
	}
}

func TestCompare_FactorOutOfRangeReturns400(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/compare", map[string]any{
		"description": "Perte d'un fournisseur critique",
		"category":    "Projet/Programme",
		"type":        "Commercial",
		"user_G":      6,
		"user_F":      2,
		"user_P":      2,
	}, authHeader)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if deps.assessor.calls != 0 {
		t.Error("assessor should not be called on invalid input")
	}
}

// ─── PROJECTS ─────────────────────────────────────────────────────────────────

func TestCreateProject(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/projects", map[string]any{
		"analysis_title": "Audit annuel",
		"project_type":   "project",
		"description":    "Analyse des risques du projet",
	}, authHeader)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		Stage  string `json:"stage"`
		UserID string `json:"user_id"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "draft" || resp.Stage != "idle" || resp.UserID != testUID {
		t.Errorf("got %+v", resp)
	}
}

func TestCreateProject_EntityRequiresEntityType(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/projects", map[string]any{
		"analysis_title": "Audit annuel",
		"project_type":   "entity",
		"description":    "Analyse des risques de l'entité",
	}, authHeader)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetProject_StageAndPending(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)
	for range workflow.MinRisks {
		seedRisk(deps, p.ID, 4, 3, 3)
	}

	rr := doRequest(t, deps.handler, http.MethodGet, "/projects/"+p.ID.String(), nil, authHeader)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Stage   string `json:"stage"`
		Pending []int  `json:"pending"`
		Risks   []struct {
			RequiresMitigation bool `json:"requires_mitigation"`
		} `json:"risks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Stage != string(workflow.StageRisksScored) {
		t.Errorf("stage: got %q", resp.Stage)
	}
	if len(resp.Pending) != workflow.MinRisks || len(resp.Risks) != workflow.MinRisks {
		t.Errorf("pending=%v risks=%d", resp.Pending, len(resp.Risks))
	}
	if !resp.Risks[0].RequiresMitigation {
		t.Error("Moderate risk should require mitigation")
	}
}

func TestProject_OtherUserReturns403(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, "someone_else")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/projects/" + p.ID.String()},
		{http.MethodDelete, "/projects/" + p.ID.String()},
		{http.MethodPost, "/projects/" + p.ID.String() + "/ai-analysis"},
	} {
		rr := doRequest(t, deps.handler, tc.method, tc.path, nil, authHeader)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d", tc.method, tc.path, rr.Code)
		}
	}
	if _, ok := deps.q.projects[p.ID]; !ok {
		t.Error("project should not be deleted")
	}
}

func TestDuplicateProject_BumpsVersion(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/duplicate", nil, authHeader)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Title string `json:"title"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Title != "Audit annuel_v2" {
		t.Errorf("title: got %q", resp.Title)
	}
}

func TestAddRisk_DirectFactors(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/risks", map[string]any{
		"title":       "Fuite de données",
		"description": "Exfiltration de la base clients",
		"category":    "Industriel",
		"type":        "Cyber & SSI",
		"G":           5, "F": 4, "P": 3,
	}, authHeader)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.store.risks) != 1 {
		t.Fatalf("expected 1 stored risk, got %d", len(deps.store.risks))
	}
	got := deps.store.risks[0].Assessment
	if got.RawScore != 60 || got.Classification != scoring.ClassHigh {
		t.Errorf("assessment: %+v", got)
	}
	if deps.store.risks[0].Risk.Sector != p.Sector {
		t.Errorf("sector should come from the project")
	}
}

func TestAddRisk_NeedsAnswersOrFactors(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/risks", map[string]any{
		"title":       "Fuite de données",
		"description": "Exfiltration de la base clients",
		"category":    "Industriel",
		"type":        "Cyber & SSI",
		"G":           5,
	}, authHeader)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateMitigation_EmitsProjectCompleted(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)
	risk := seedRisk(deps, p.ID, 4, 3, 3)
	deps.store.projectStatus = workflow.StatusCompleted

	var completed []events.ProjectPayload
	deps.bus.On(events.ProjectCompleted, func(pl any) {
		completed = append(completed, pl.(events.ProjectPayload))
	})

	rr := doRequest(t, deps.handler, http.MethodPut,
		"/projects/"+p.ID.String()+"/risks/"+risk.ID.String()+"/mitigation",
		map[string]any{
			"text":     "Chiffrement et supervision",
			"impacted": []string{"G"},
			"answers_by_dim": map[string]any{
				"G": []map[string]string{
					{"question_id": "G1", "option_id": "G1_O2"},
					{"question_id": "G2", "option_id": "G2_O2"},
				},
			},
		}, authHeader)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.store.mitigations) != 1 {
		t.Fatalf("expected 1 mitigation, got %d", len(deps.store.mitigations))
	}
	residual := deps.store.mitigations[0].Residual
	if residual.G != 2 || residual.F != 3 || residual.P != 3 {
		t.Errorf("residual: got %d/%d/%d, want 2/3/3", residual.G, residual.F, residual.P)
	}
	if len(completed) != 1 || completed[0].ProjectID != p.ID {
		t.Errorf("project.completed: got %+v", completed)
	}
}

func TestUpdateMitigation_EmitsResidualCreated(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)
	risk := seedRisk(deps, p.ID, 4, 3, 3)

	var residuals []events.AnalysisPayload
	deps.bus.On(events.ResidualCreated, func(pl any) {
		residuals = append(residuals, pl.(events.AnalysisPayload))
	})

	rr := doRequest(t, deps.handler, http.MethodPut,
		"/projects/"+p.ID.String()+"/risks/"+risk.ID.String()+"/mitigation",
		map[string]any{
			"text":     "Formation des équipes",
			"impacted": []string{"G"},
			"answers_by_dim": map[string]any{
				"G": []map[string]string{{"question_id": "G1", "option_id": "G1_O1"}},
			},
		}, authHeader)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(residuals) != 1 {
		t.Fatalf("expected 1 residual.created event, got %d", len(residuals))
	}
	got := residuals[0]
	if got.AnalysisID != risk.ID || got.UserID != testUID {
		t.Errorf("payload ids: %+v", got)
	}
	if got.Assessment.G != 1 || got.Assessment.RawScore != 9 {
		t.Errorf("residual: G=%d score=%d, want G=1 score=9", got.Assessment.G, got.Assessment.RawScore)
	}
	if got.Parent == nil || got.Parent.RawScore != 36 {
		t.Errorf("parent: %+v, want the initial 4x3x3 assessment", got.Parent)
	}
}

func TestUpdateMitigation_UnknownRiskReturns404(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodPut,
		"/projects/"+p.ID.String()+"/risks/"+uuid.New().String()+"/mitigation",
		map[string]any{"text": "Mesure", "impacted": []string{"G"}}, authHeader)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ─── PROJECT AI ANALYSIS ──────────────────────────────────────────────────────

func TestRequestAIAnalysis_EnqueuesAndReturns202(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/ai-analysis", nil, authHeader)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.worker.enqueued) != 1 || deps.worker.enqueued[0] != deps.store.aiAnalysis.ID {
		t.Errorf("enqueued: %v", deps.worker.enqueued)
	}
	if len(deps.store.notifyEmails) != 1 || deps.store.notifyEmails[0] != "alice@example.com" {
		t.Errorf("notify email: %v", deps.store.notifyEmails)
	}
}

func TestRequestAIAnalysis_InProgressIsNotRequeued(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)
	deps.store.aiAnalysis = db.AiAnalysis{ID: uuid.New(), ProjectID: p.ID, Status: db.AIStatusProcessing}
	deps.store.aiErr = store.ErrAIAnalysisInProgress

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/ai-analysis", nil, authHeader)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != db.AIStatusProcessing {
		t.Errorf("status: got %q", resp.Status)
	}
	if len(deps.worker.enqueued) != 0 {
		t.Error("in-flight analysis should not be enqueued again")
	}
}

func TestRequestAIAnalysis_IncompleteProjectReturns422(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)
	deps.store.aiErr = &store.IncompleteProjectError{Risks: 4, Pending: 2}

	rr := doRequest(t, deps.handler, http.MethodPost, "/projects/"+p.ID.String()+"/ai-analysis", nil, authHeader)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.worker.enqueued) != 0 {
		t.Error("nothing should be enqueued")
	}
}

func TestGetAIAnalysis_StatusCodes(t *testing.T) {
	cases := []struct {
		status string
		want   int
	}{
		{db.AIStatusPending, http.StatusAccepted},
		{db.AIStatusProcessing, http.StatusAccepted},
		{db.AIStatusComplete, http.StatusOK},
		{db.AIStatusFailed, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			deps := newTestServer(t)
			p := seedProject(deps, testUID)
			deps.q.aiAnalyses[p.ID] = db.AiAnalysis{ID: uuid.New(), ProjectID: p.ID, Status: tc.status}

			rr := doRequest(t, deps.handler, http.MethodGet, "/projects/"+p.ID.String()+"/ai-analysis", nil, authHeader)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestGetAIAnalysis_NoneReturns404(t *testing.T) {
	deps := newTestServer(t)
	p := seedProject(deps, testUID)

	rr := doRequest(t, deps.handler, http.MethodGet, "/projects/"+p.ID.String()+"/ai-analysis", nil, authHeader)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
