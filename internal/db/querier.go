package db

import (
	"context"

	"github.com/google/uuid"
)

type Querier interface {
	AnalysisExists(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteAIAnalysis(ctx context.Context, arg CompleteAIAnalysisParams) (AiAnalysis, error)
	CountAnalysesByUser(ctx context.Context, userID string) (int64, error)
	CreateAIAnalysis(ctx context.Context, arg CreateAIAnalysisParams) (AiAnalysis, error)
	CreateAnalysis(ctx context.Context, arg CreateAnalysisParams) (Analysis, error)
	CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error)
	CreateProjectRisk(ctx context.Context, arg CreateProjectRiskParams) (ProjectRisk, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
	DeleteProjectRisk(ctx context.Context, id uuid.UUID) error
	FailAIAnalysis(ctx context.Context, arg FailAIAnalysisParams) (AiAnalysis, error)
	GetAIAnalysisByID(ctx context.Context, id uuid.UUID) (AiAnalysis, error)
	GetAnalysisByID(ctx context.Context, id uuid.UUID) (Analysis, error)
	GetLatestAIAnalysis(ctx context.Context, projectID uuid.UUID) (AiAnalysis, error)
	GetProjectByID(ctx context.Context, id uuid.UUID) (Project, error)
	GetProjectRisk(ctx context.Context, arg GetProjectRiskParams) (ProjectRisk, error)
	ListAllAnalysesByUser(ctx context.Context, userID string) ([]Analysis, error)
	ListAnalysesByUser(ctx context.Context, arg ListAnalysesByUserParams) ([]Analysis, error)
	ListPendingAIAnalyses(ctx context.Context) ([]AiAnalysis, error)
	ListProjectRisks(ctx context.Context, projectID uuid.UUID) ([]ProjectRisk, error)
	ListProjectTitlesByUser(ctx context.Context, userID string) ([]string, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]Project, error)
	ListResidualsByParent(ctx context.Context, parentID uuid.NullUUID) ([]Analysis, error)
	MarkAIAnalysisProcessing(ctx context.Context, id uuid.UUID) error
	NextRiskPosition(ctx context.Context, projectID uuid.UUID) (int32, error)
	UpdateProject(ctx context.Context, arg UpdateProjectParams) (Project, error)
	UpdateProjectStatus(ctx context.Context, arg UpdateProjectStatusParams) (Project, error)
	UpdateRiskMitigation(ctx context.Context, arg UpdateRiskMitigationParams) (ProjectRisk, error)
}

var _ Querier = (*Queries)(nil)
