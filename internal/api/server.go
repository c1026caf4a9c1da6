// Package api implements the HTTP layer of the Kinney risk-analysis backend.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/auth"
	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
	"github.com/nyashahama/kinney-risk-backend/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// AllowedOrigins is the CORS allow-list applied in production.
	AllowedOrigins []string
}

// Store is the set of multi-step writes the handlers need. *store.Store
// implements it; tests inject a stub.
type Store interface {
	CreateAnalysis(ctx context.Context, p store.AnalysisParams) (db.Analysis, error)
	CreateResiduals(ctx context.Context, parent db.Analysis, measures []store.ResidualMeasure, bankVersion string) ([]db.Analysis, error)
	ImportAnalyses(ctx context.Context, userID string, items []db.CreateAnalysisParams) (store.ImportResult, error)

	AddRisk(ctx context.Context, projectID uuid.UUID, p store.RiskParams) (db.ProjectRisk, db.Project, error)
	UpdateMitigation(ctx context.Context, projectID, riskID uuid.UUID, p store.MitigationParams) (db.ProjectRisk, db.Project, error)
	DeleteRisk(ctx context.Context, projectID, riskID uuid.UUID) (db.Project, error)
	DuplicateProject(ctx context.Context, src db.Project, userID, newTitle string) (db.Project, error)

	RequestAIAnalysis(ctx context.Context, projectID uuid.UUID, userID, notifyEmail string) (db.AiAnalysis, error)
}

// Deps are the collaborators of the Server.
type Deps struct {
	// Q handles all single-query reads. Injected directly, no repo wrapper.
	Q db.Querier

	// Store handles multi-step atomic writes.
	Store Store

	// Bank is the question bank every questionnaire is scored against.
	Bank *scoring.QuestionBank

	// Assessor produces the independent AI assessment of a risk.
	Assessor ai.Assessor

	// Verifier checks the bearer ID token of authenticated routes.
	Verifier auth.Verifier

	// Worker enqueues project AI analyses.
	Worker worker.Enqueuer

	// Bus receives domain events (analysis.created, ...).
	Bus *events.Bus

	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	q        db.Querier
	store    Store
	bank     *scoring.QuestionBank
	assessor ai.Assessor
	verifier auth.Verifier
	worker   worker.Enqueuer
	bus      *events.Bus
	metrics  http.Handler

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.Server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) http.Handler {
	s := &Server{
		q:        deps.Q,
		store:    deps.Store,
		bank:     deps.Bank,
		assessor: deps.Assessor,
		verifier: deps.Verifier,
		worker:   deps.Worker,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/constants", s.handleConstants)
	r.Get("/ia/compliance", s.handleIACompliance)
	r.Get("/questionnaire/questions", s.handleGetQuestions)

	// ── Authenticated ─────────────────────────────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/profile", s.handleProfile)

		r.Route("/questionnaire", func(r chi.Router) {
			r.Post("/analyze", s.handleAnalyze)
			r.Get("/analyses", s.handleListAnalyses)
			r.Get("/analyses/{analysisID}", s.handleGetAnalysis)
			r.Get("/analyses/{analysisID}/residuals", s.handleListResiduals)
			r.Post("/residual", s.handleCreateResiduals)
			r.Get("/export", s.handleExport)
			r.Post("/import", s.handleImport)
		})

		r.Post("/ia/analyze", s.handleIAAnalyze)
		r.Post("/compare", s.handleCompare)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Put("/", s.handleUpdateProject)
				r.Delete("/", s.handleDeleteProject)
				r.Post("/duplicate", s.handleDuplicateProject)

				r.Post("/risks", s.handleAddRisk)
				r.Put("/risks/{riskID}/mitigation", s.handleUpdateMitigation)
				r.Delete("/risks/{riskID}", s.handleDeleteRisk)

				r.Post("/ai-analysis", s.handleRequestAIAnalysis)
				r.Get("/ai-analysis", s.handleGetAIAnalysis)
			})
		})
	})

	return r
}
