// source: ai_analyses.sql

package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const aiAnalysisColumns = `id, project_id, user_id, status, notify_email, results, summary, error_message, created_at, completed_at`

func scanAIAnalysis(row rowScanner) (AiAnalysis, error) {
	var i AiAnalysis
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.UserID,
		&i.Status,
		&i.NotifyEmail,
		&i.Results,
		&i.Summary,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.CompletedAt,
	)
	return i, err
}

const completeAIAnalysis = `-- name: CompleteAIAnalysis :one
UPDATE ai_analyses
SET status = 'complete', results = $2, summary = $3, error_message = NULL, completed_at = now()
WHERE id = $1
RETURNING ` + aiAnalysisColumns + `
`

type CompleteAIAnalysisParams struct {
	ID      uuid.UUID             `json:"id"`
	Results pqtype.NullRawMessage `json:"results"`
	Summary pqtype.NullRawMessage `json:"summary"`
}

func (q *Queries) CompleteAIAnalysis(ctx context.Context, arg CompleteAIAnalysisParams) (AiAnalysis, error) {
	return scanAIAnalysis(q.queryRow(ctx, completeAIAnalysis, arg.ID, arg.Results, arg.Summary))
}

const createAIAnalysis = `-- name: CreateAIAnalysis :one
INSERT INTO ai_analyses (id, project_id, user_id, notify_email, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING ` + aiAnalysisColumns + `
`

type CreateAIAnalysisParams struct {
	ID          uuid.UUID      `json:"id"`
	ProjectID   uuid.UUID      `json:"project_id"`
	UserID      string         `json:"user_id"`
	NotifyEmail sql.NullString `json:"notify_email"`
}

func (q *Queries) CreateAIAnalysis(ctx context.Context, arg CreateAIAnalysisParams) (AiAnalysis, error) {
	return scanAIAnalysis(q.queryRow(ctx, createAIAnalysis, arg.ID, arg.ProjectID, arg.UserID, arg.NotifyEmail))
}

const failAIAnalysis = `-- name: FailAIAnalysis :one
UPDATE ai_analyses
SET status = 'failed', error_message = $2, completed_at = now()
WHERE id = $1
RETURNING ` + aiAnalysisColumns + `
`

type FailAIAnalysisParams struct {
	ID           uuid.UUID      `json:"id"`
	ErrorMessage sql.NullString `json:"error_message"`
}

func (q *Queries) FailAIAnalysis(ctx context.Context, arg FailAIAnalysisParams) (AiAnalysis, error) {
	return scanAIAnalysis(q.queryRow(ctx, failAIAnalysis, arg.ID, arg.ErrorMessage))
}

const getAIAnalysisByID = `-- name: GetAIAnalysisByID :one
SELECT ` + aiAnalysisColumns + ` FROM ai_analyses WHERE id = $1
`

func (q *Queries) GetAIAnalysisByID(ctx context.Context, id uuid.UUID) (AiAnalysis, error) {
	return scanAIAnalysis(q.queryRow(ctx, getAIAnalysisByID, id))
}

const getLatestAIAnalysis = `-- name: GetLatestAIAnalysis :one
SELECT ` + aiAnalysisColumns + ` FROM ai_analyses
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetLatestAIAnalysis(ctx context.Context, projectID uuid.UUID) (AiAnalysis, error) {
	return scanAIAnalysis(q.queryRow(ctx, getLatestAIAnalysis, projectID))
}

const listPendingAIAnalyses = `-- name: ListPendingAIAnalyses :many
SELECT ` + aiAnalysisColumns + ` FROM ai_analyses
WHERE status IN ('pending', 'processing')
ORDER BY created_at ASC
LIMIT 50
`

func (q *Queries) ListPendingAIAnalyses(ctx context.Context) ([]AiAnalysis, error) {
	rows, err := q.query(ctx, listPendingAIAnalyses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AiAnalysis{}
	for rows.Next() {
		i, err := scanAIAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markAIAnalysisProcessing = `-- name: MarkAIAnalysisProcessing :exec
UPDATE ai_analyses SET status = 'processing' WHERE id = $1 AND status = 'pending'
`

func (q *Queries) MarkAIAnalysisProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := q.exec(ctx, markAIAnalysisProcessing, id)
	return err
}
