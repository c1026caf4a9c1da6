// source: project_risks.sql

package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const projectRiskColumns = `id, project_id, position, title, description, category, risk_type, g, f, p, raw_score, normalized_score, classification, answers, mitigation, impacted, residual_g, residual_f, residual_p, residual_raw_score, residual_normalized_score, residual_classification, residual_answers, created_at, updated_at`

func scanProjectRisk(row rowScanner) (ProjectRisk, error) {
	var i ProjectRisk
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.Position,
		&i.Title,
		&i.Description,
		&i.Category,
		&i.RiskType,
		&i.G,
		&i.F,
		&i.P,
		&i.RawScore,
		&i.NormalizedScore,
		&i.Classification,
		&i.Answers,
		&i.Mitigation,
		pq.Array(&i.Impacted),
		&i.ResidualG,
		&i.ResidualF,
		&i.ResidualP,
		&i.ResidualRawScore,
		&i.ResidualNormalizedScore,
		&i.ResidualClassification,
		&i.ResidualAnswers,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createProjectRisk = `-- name: CreateProjectRisk :one
INSERT INTO project_risks (
    id, project_id, position, title, description, category, risk_type,
    g, f, p, raw_score, normalized_score, classification, answers,
    mitigation, impacted, residual_g, residual_f, residual_p,
    residual_raw_score, residual_normalized_score, residual_classification, residual_answers
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
    $15, $16, $17, $18, $19, $20, $21, $22, $23
)
RETURNING ` + projectRiskColumns + `
`

type CreateProjectRiskParams struct {
	ID                      uuid.UUID             `json:"id"`
	ProjectID               uuid.UUID             `json:"project_id"`
	Position                int32                 `json:"position"`
	Title                   string                `json:"title"`
	Description             string                `json:"description"`
	Category                string                `json:"category"`
	RiskType                string                `json:"risk_type"`
	G                       int16                 `json:"g"`
	F                       int16                 `json:"f"`
	P                       int16                 `json:"p"`
	RawScore                int16                 `json:"raw_score"`
	NormalizedScore         int16                 `json:"normalized_score"`
	Classification          string                `json:"classification"`
	Answers                 pqtype.NullRawMessage `json:"answers"`
	Mitigation              sql.NullString        `json:"mitigation"`
	Impacted                []string              `json:"impacted"`
	ResidualG               sql.NullInt16         `json:"residual_g"`
	ResidualF               sql.NullInt16         `json:"residual_f"`
	ResidualP               sql.NullInt16         `json:"residual_p"`
	ResidualRawScore        sql.NullInt16         `json:"residual_raw_score"`
	ResidualNormalizedScore sql.NullInt16         `json:"residual_normalized_score"`
	ResidualClassification  sql.NullString        `json:"residual_classification"`
	ResidualAnswers         pqtype.NullRawMessage `json:"residual_answers"`
}

func (q *Queries) CreateProjectRisk(ctx context.Context, arg CreateProjectRiskParams) (ProjectRisk, error) {
	if arg.Impacted == nil {
		arg.Impacted = []string{}
	}
	row := q.queryRow(ctx, createProjectRisk,
		arg.ID,
		arg.ProjectID,
		arg.Position,
		arg.Title,
		arg.Description,
		arg.Category,
		arg.RiskType,
		arg.G,
		arg.F,
		arg.P,
		arg.RawScore,
		arg.NormalizedScore,
		arg.Classification,
		arg.Answers,
		arg.Mitigation,
		pq.Array(arg.Impacted),
		arg.ResidualG,
		arg.ResidualF,
		arg.ResidualP,
		arg.ResidualRawScore,
		arg.ResidualNormalizedScore,
		arg.ResidualClassification,
		arg.ResidualAnswers,
	)
	return scanProjectRisk(row)
}

const deleteProjectRisk = `-- name: DeleteProjectRisk :exec
DELETE FROM project_risks WHERE id = $1
`

func (q *Queries) DeleteProjectRisk(ctx context.Context, id uuid.UUID) error {
	_, err := q.exec(ctx, deleteProjectRisk, id)
	return err
}

const getProjectRisk = `-- name: GetProjectRisk :one
SELECT ` + projectRiskColumns + ` FROM project_risks WHERE id = $1 AND project_id = $2
`

type GetProjectRiskParams struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
}

func (q *Queries) GetProjectRisk(ctx context.Context, arg GetProjectRiskParams) (ProjectRisk, error) {
	return scanProjectRisk(q.queryRow(ctx, getProjectRisk, arg.ID, arg.ProjectID))
}

const listProjectRisks = `-- name: ListProjectRisks :many
SELECT ` + projectRiskColumns + ` FROM project_risks
WHERE project_id = $1
ORDER BY position ASC, created_at ASC
`

func (q *Queries) ListProjectRisks(ctx context.Context, projectID uuid.UUID) ([]ProjectRisk, error) {
	rows, err := q.query(ctx, listProjectRisks, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ProjectRisk{}
	for rows.Next() {
		i, err := scanProjectRisk(rows)
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

const nextRiskPosition = `-- name: NextRiskPosition :one
SELECT COALESCE(MAX(position), 0) + 1 FROM project_risks WHERE project_id = $1
`

func (q *Queries) NextRiskPosition(ctx context.Context, projectID uuid.UUID) (int32, error) {
	row := q.queryRow(ctx, nextRiskPosition, projectID)
	var position int32
	err := row.Scan(&position)
	return position, err
}

const updateRiskMitigation = `-- name: UpdateRiskMitigation :one
UPDATE project_risks
SET mitigation = $2,
    impacted = $3,
    residual_g = $4,
    residual_f = $5,
    residual_p = $6,
    residual_raw_score = $7,
    residual_normalized_score = $8,
    residual_classification = $9,
    residual_answers = $10,
    updated_at = now()
WHERE id = $1
RETURNING ` + projectRiskColumns + `
`

type UpdateRiskMitigationParams struct {
	ID                      uuid.UUID             `json:"id"`
	Mitigation              sql.NullString        `json:"mitigation"`
	Impacted                []string              `json:"impacted"`
	ResidualG               sql.NullInt16         `json:"residual_g"`
	ResidualF               sql.NullInt16         `json:"residual_f"`
	ResidualP               sql.NullInt16         `json:"residual_p"`
	ResidualRawScore        sql.NullInt16         `json:"residual_raw_score"`
	ResidualNormalizedScore sql.NullInt16         `json:"residual_normalized_score"`
	ResidualClassification  sql.NullString        `json:"residual_classification"`
	ResidualAnswers         pqtype.NullRawMessage `json:"residual_answers"`
}

func (q *Queries) UpdateRiskMitigation(ctx context.Context, arg UpdateRiskMitigationParams) (ProjectRisk, error) {
	if arg.Impacted == nil {
		arg.Impacted = []string{}
	}
	row := q.queryRow(ctx, updateRiskMitigation,
		arg.ID,
		arg.Mitigation,
		pq.Array(arg.Impacted),
		arg.ResidualG,
		arg.ResidualF,
		arg.ResidualP,
		arg.ResidualRawScore,
		arg.ResidualNormalizedScore,
		arg.ResidualClassification,
		arg.ResidualAnswers,
	)
	return scanProjectRisk(row)
}
