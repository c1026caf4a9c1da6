// source: analyses.sql

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var i Analysis
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ParentID,
		&i.Title,
		&i.Category,
		&i.RiskType,
		&i.Sector,
		&i.Description,
		&i.Measure,
		pq.Array(&i.Impacted),
		&i.G,
		&i.F,
		&i.P,
		&i.RawScore,
		&i.NormalizedScore,
		&i.Classification,
		&i.BankVersion,
		&i.Answers,
		&i.Details,
		&i.CreatedAt,
	)
	return i, err
}

const analysisExists = `-- name: AnalysisExists :one
SELECT EXISTS (SELECT 1 FROM analyses WHERE id = $1)
`

func (q *Queries) AnalysisExists(ctx context.Context, id uuid.UUID) (bool, error) {
	row := q.queryRow(ctx, analysisExists, id)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const countAnalysesByUser = `-- name: CountAnalysesByUser :one
SELECT count(*) FROM analyses WHERE user_id = $1
`

func (q *Queries) CountAnalysesByUser(ctx context.Context, userID string) (int64, error) {
	row := q.queryRow(ctx, countAnalysesByUser, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createAnalysis = `-- name: CreateAnalysis :one
INSERT INTO analyses (
    id, user_id, parent_id, title, category, risk_type, sector, description,
    measure, impacted, g, f, p, raw_score, normalized_score, classification,
    bank_version, answers, details, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
)
RETURNING id, user_id, parent_id, title, category, risk_type, sector, description, measure, impacted, g, f, p, raw_score, normalized_score, classification, bank_version, answers, details, created_at
`

type CreateAnalysisParams struct {
	ID              uuid.UUID             `json:"id"`
	UserID          string                `json:"user_id"`
	ParentID        uuid.NullUUID         `json:"parent_id"`
	Title           string                `json:"title"`
	Category        string                `json:"category"`
	RiskType        string                `json:"risk_type"`
	Sector          string                `json:"sector"`
	Description     string                `json:"description"`
	Measure         string                `json:"measure"`
	Impacted        []string              `json:"impacted"`
	G               int16                 `json:"g"`
	F               int16                 `json:"f"`
	P               int16                 `json:"p"`
	RawScore        int16                 `json:"raw_score"`
	NormalizedScore int16                 `json:"normalized_score"`
	Classification  string                `json:"classification"`
	BankVersion     string                `json:"bank_version"`
	Answers         pqtype.NullRawMessage `json:"answers"`
	Details         pqtype.NullRawMessage `json:"details"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (q *Queries) CreateAnalysis(ctx context.Context, arg CreateAnalysisParams) (Analysis, error) {
	if arg.Impacted == nil {
		arg.Impacted = []string{}
	}
	row := q.queryRow(ctx, createAnalysis,
		arg.ID,
		arg.UserID,
		arg.ParentID,
		arg.Title,
		arg.Category,
		arg.RiskType,
		arg.Sector,
		arg.Description,
		arg.Measure,
		pq.Array(arg.Impacted),
		arg.G,
		arg.F,
		arg.P,
		arg.RawScore,
		arg.NormalizedScore,
		arg.Classification,
		arg.BankVersion,
		arg.Answers,
		arg.Details,
		arg.CreatedAt,
	)
	return scanAnalysis(row)
}

const getAnalysisByID = `-- name: GetAnalysisByID :one
SELECT id, user_id, parent_id, title, category, risk_type, sector, description, measure, impacted, g, f, p, raw_score, normalized_score, classification, bank_version, answers, details, created_at FROM analyses WHERE id = $1
`

func (q *Queries) GetAnalysisByID(ctx context.Context, id uuid.UUID) (Analysis, error) {
	return scanAnalysis(q.queryRow(ctx, getAnalysisByID, id))
}

const listAllAnalysesByUser = `-- name: ListAllAnalysesByUser :many
SELECT id, user_id, parent_id, title, category, risk_type, sector, description, measure, impacted, g, f, p, raw_score, normalized_score, classification, bank_version, answers, details, created_at FROM analyses
WHERE user_id = $1
ORDER BY created_at ASC
`

func (q *Queries) ListAllAnalysesByUser(ctx context.Context, userID string) ([]Analysis, error) {
	return q.listAnalyses(ctx, listAllAnalysesByUser, userID)
}

const listAnalysesByUser = `-- name: ListAnalysesByUser :many
SELECT id, user_id, parent_id, title, category, risk_type, sector, description, measure, impacted, g, f, p, raw_score, normalized_score, classification, bank_version, answers, details, created_at FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

type ListAnalysesByUserParams struct {
	UserID string `json:"user_id"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"offset"`
}

func (q *Queries) ListAnalysesByUser(ctx context.Context, arg ListAnalysesByUserParams) ([]Analysis, error) {
	return q.listAnalyses(ctx, listAnalysesByUser, arg.UserID, arg.Limit, arg.Offset)
}

const listResidualsByParent = `-- name: ListResidualsByParent :many
SELECT id, user_id, parent_id, title, category, risk_type, sector, description, measure, impacted, g, f, p, raw_score, normalized_score, classification, bank_version, answers, details, created_at FROM analyses
WHERE parent_id = $1
ORDER BY created_at ASC
`

func (q *Queries) ListResidualsByParent(ctx context.Context, parentID uuid.NullUUID) ([]Analysis, error) {
	return q.listAnalyses(ctx, listResidualsByParent, parentID)
}

func (q *Queries) listAnalyses(ctx context.Context, query string, args ...interface{}) ([]Analysis, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Analysis{}
	for rows.Next() {
		i, err := scanAnalysis(rows)
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
