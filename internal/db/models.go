package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// AI analysis lifecycle, stored in ai_analyses.status.
const (
	AIStatusPending    = "pending"
	AIStatusProcessing = "processing"
	AIStatusComplete   = "complete"
	AIStatusFailed     = "failed"
)

type AiAnalysis struct {
	ID           uuid.UUID             `json:"id"`
	ProjectID    uuid.UUID             `json:"project_id"`
	UserID       string                `json:"user_id"`
	Status       string                `json:"status"`
	NotifyEmail  sql.NullString        `json:"-"`
	Results      pqtype.NullRawMessage `json:"results"`
	Summary      pqtype.NullRawMessage `json:"summary"`
	ErrorMessage sql.NullString        `json:"error_message"`
	CreatedAt    time.Time             `json:"created_at"`
	CompletedAt  sql.NullTime          `json:"completed_at"`
}

type Analysis struct {
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

type Project struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	ProjectType    string    `json:"project_type"`
	Description    string    `json:"description"`
	EntityType     string    `json:"entity_type"`
	EntityServices string    `json:"entity_services"`
	Sector         string    `json:"sector"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProjectRisk struct {
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
	CreatedAt               time.Time             `json:"created_at"`
	UpdatedAt               time.Time             `json:"updated_at"`
}
