package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/workflow"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// RiskParams is a scored risk to add to a project.
type RiskParams struct {
	Title      string
	Risk       scoring.RiskInput
	Assessment scoring.Assessment
	Answers    []scoring.Answer
}

// MitigationParams is the measure taken against a project risk and the
// residual assessment it yields.
type MitigationParams struct {
	Text     string
	Impacted []scoring.Dimension
	Residual scoring.Assessment
	Answers  map[scoring.Dimension][]scoring.Answer
}

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrRiskNotFound is returned when a risk ID does not belong to the project.
var ErrRiskNotFound = errors.New("store: risk not found in project")

// ─── METHODS ─────────────────────────────────────────────────────────────────

// AddRisk appends a scored risk to a project and recomputes the project
// status in the same transaction.
func (s *Store) AddRisk(ctx context.Context, projectID uuid.UUID, p RiskParams) (db.ProjectRisk, db.Project, error) {
	answers, err := nullJSON(p.Answers)
	if err != nil {
		return db.ProjectRisk{}, db.Project{}, fmt.Errorf("AddRisk: marshal answers: %w", err)
	}

	var (
		risk    db.ProjectRisk
		project db.Project
	)
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		pos, err := q.NextRiskPosition(ctx, projectID)
		if err != nil {
			return fmt.Errorf("AddRisk: next position: %w", err)
		}
		a := p.Assessment
		risk, err = q.CreateProjectRisk(ctx, db.CreateProjectRiskParams{
			ID:              uuid.New(),
			ProjectID:       projectID,
			Position:        pos,
			Title:           p.Title,
			Description:     p.Risk.Description,
			Category:        p.Risk.Category,
			RiskType:        p.Risk.Type,
			G:               int16(a.G),
			F:               int16(a.F),
			P:               int16(a.P),
			RawScore:        int16(a.RawScore),
			NormalizedScore: int16(a.NormalizedScore),
			Classification:  string(a.Classification),
			Answers:         answers,
		})
		if err != nil {
			return fmt.Errorf("AddRisk: insert risk: %w", err)
		}
		project, err = recomputeStatus(ctx, q, projectID)
		return err
	})
	if err != nil {
		return db.ProjectRisk{}, db.Project{}, err
	}
	return risk, project, nil
}

// UpdateMitigation records the measure and residual assessment of one risk
// and recomputes the project status.
func (s *Store) UpdateMitigation(ctx context.Context, projectID, riskID uuid.UUID, p MitigationParams) (db.ProjectRisk, db.Project, error) {
	answers, err := nullJSON(p.Answers)
	if err != nil {
		return db.ProjectRisk{}, db.Project{}, fmt.Errorf("UpdateMitigation: marshal answers: %w", err)
	}

	var (
		risk    db.ProjectRisk
		project db.Project
	)
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.GetProjectRisk(ctx, db.GetProjectRiskParams{ID: riskID, ProjectID: projectID}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRiskNotFound
			}
			return fmt.Errorf("UpdateMitigation: get risk: %w", err)
		}
		r := p.Residual
		risk, err = q.UpdateRiskMitigation(ctx, db.UpdateRiskMitigationParams{
			ID:                      riskID,
			Mitigation:              sql.NullString{String: p.Text, Valid: true},
			Impacted:                dimensionStrings(p.Impacted),
			ResidualG:               nullInt16(r.G),
			ResidualF:               nullInt16(r.F),
			ResidualP:               nullInt16(r.P),
			ResidualRawScore:        nullInt16(r.RawScore),
			ResidualNormalizedScore: nullInt16(r.NormalizedScore),
			ResidualClassification:  sql.NullString{String: string(r.Classification), Valid: true},
			ResidualAnswers:         answers,
		})
		if err != nil {
			return fmt.Errorf("UpdateMitigation: update risk: %w", err)
		}
		project, err = recomputeStatus(ctx, q, projectID)
		return err
	})
	if err != nil {
		return db.ProjectRisk{}, db.Project{}, err
	}
	return risk, project, nil
}

// DeleteRisk removes a risk and recomputes the project status.
func (s *Store) DeleteRisk(ctx context.Context, projectID, riskID uuid.UUID) (db.Project, error) {
	var project db.Project
	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.GetProjectRisk(ctx, db.GetProjectRiskParams{ID: riskID, ProjectID: projectID}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRiskNotFound
			}
			return fmt.Errorf("DeleteRisk: get risk: %w", err)
		}
		if err := q.DeleteProjectRisk(ctx, riskID); err != nil {
			return fmt.Errorf("DeleteRisk: delete: %w", err)
		}
		var err error
		project, err = recomputeStatus(ctx, q, projectID)
		return err
	})
	if err != nil {
		return db.Project{}, err
	}
	return project, nil
}

// DuplicateProject copies src and all its risks into a new project owned by
// userID. An empty newTitle bumps the version suffix of the source title until
// it no longer collides with one of the user's projects.
func (s *Store) DuplicateProject(ctx context.Context, src db.Project, userID, newTitle string) (db.Project, error) {
	var project db.Project
	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if newTitle == "" {
			titles, err := q.ListProjectTitlesByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("DuplicateProject: list titles: %w", err)
			}
			taken := make(map[string]bool, len(titles))
			for _, t := range titles {
				taken[t] = true
			}
			newTitle = NextVersionTitle(src.Title)
			for taken[newTitle] {
				newTitle = NextVersionTitle(newTitle)
			}
		}

		var err error
		project, err = q.CreateProject(ctx, db.CreateProjectParams{
			ID:             uuid.New(),
			UserID:         userID,
			Title:          newTitle,
			ProjectType:    src.ProjectType,
			Description:    src.Description,
			EntityType:     src.EntityType,
			EntityServices: src.EntityServices,
			Sector:         src.Sector,
			Status:         workflow.StatusDraft,
		})
		if err != nil {
			return fmt.Errorf("DuplicateProject: create project: %w", err)
		}

		risks, err := q.ListProjectRisks(ctx, src.ID)
		if err != nil {
			return fmt.Errorf("DuplicateProject: list risks: %w", err)
		}
		for _, r := range risks {
			_, err := q.CreateProjectRisk(ctx, db.CreateProjectRiskParams{
				ID:                      uuid.New(),
				ProjectID:               project.ID,
				Position:                r.Position,
				Title:                   r.Title,
				Description:             r.Description,
				Category:                r.Category,
				RiskType:                r.RiskType,
				G:                       r.G,
				F:                       r.F,
				P:                       r.P,
				RawScore:                r.RawScore,
				NormalizedScore:         r.NormalizedScore,
				Classification:          r.Classification,
				Answers:                 r.Answers,
				Mitigation:              r.Mitigation,
				Impacted:                r.Impacted,
				ResidualG:               r.ResidualG,
				ResidualF:               r.ResidualF,
				ResidualP:               r.ResidualP,
				ResidualRawScore:        r.ResidualRawScore,
				ResidualNormalizedScore: r.ResidualNormalizedScore,
				ResidualClassification:  r.ResidualClassification,
				ResidualAnswers:         r.ResidualAnswers,
			})
			if err != nil {
				return fmt.Errorf("DuplicateProject: copy risk %s: %w", r.ID, err)
			}
		}

		project, err = recomputeStatus(ctx, q, project.ID)
		return err
	})
	if err != nil {
		return db.Project{}, err
	}
	return project, nil
}

// ─── STATUS ──────────────────────────────────────────────────────────────────

// recomputeStatus derives the project status from its risks and writes it.
// UpdateProjectStatus also bumps updated_at, so every risk change shows up in
// the project list ordering.
func recomputeStatus(ctx context.Context, q db.Querier, projectID uuid.UUID) (db.Project, error) {
	rows, err := q.ListProjectRisks(ctx, projectID)
	if err != nil {
		return db.Project{}, fmt.Errorf("recompute status: list risks: %w", err)
	}
	status := workflow.Status(workflow.StageOf(WorkflowRisks(rows)))
	project, err := q.UpdateProjectStatus(ctx, db.UpdateProjectStatusParams{ID: projectID, Status: status})
	if err != nil {
		return db.Project{}, fmt.Errorf("recompute status: update: %w", err)
	}
	return project, nil
}

// WorkflowRisks converts stored risks into the workflow view.
func WorkflowRisks(rows []db.ProjectRisk) []workflow.Risk {
	out := make([]workflow.Risk, len(rows))
	for i, r := range rows {
		initial := RiskAssessment(r)
		wr := workflow.Risk{Initial: &initial}
		if residual, ok := ResidualAssessment(r); ok {
			wr.Mitigations = []workflow.Mitigation{{
				Text:     r.Mitigation.String,
				Impacted: parseDimensions(r.Impacted),
				Residual: &residual,
			}}
		}
		out[i] = wr
	}
	return out
}

// RiskAssessment returns the initial assessment of a stored risk.
func RiskAssessment(r db.ProjectRisk) scoring.Assessment {
	return scoring.Assessment{
		G:               int(r.G),
		F:               int(r.F),
		P:               int(r.P),
		RawScore:        int(r.RawScore),
		NormalizedScore: int(r.NormalizedScore),
		Classification:  scoring.Classification(r.Classification),
	}
}

// ResidualAssessment returns the residual assessment of a stored risk, if
// one has been recorded.
func ResidualAssessment(r db.ProjectRisk) (scoring.Assessment, bool) {
	if !r.ResidualG.Valid || !r.ResidualF.Valid || !r.ResidualP.Valid {
		return scoring.Assessment{}, false
	}
	return scoring.Assessment{
		G:               int(r.ResidualG.Int16),
		F:               int(r.ResidualF.Int16),
		P:               int(r.ResidualP.Int16),
		RawScore:        int(r.ResidualRawScore.Int16),
		NormalizedScore: int(r.ResidualNormalizedScore.Int16),
		Classification:  scoring.Classification(r.ResidualClassification.String),
	}, true
}

// ─── TITLES ──────────────────────────────────────────────────────────────────

var versionSuffix = regexp.MustCompile(`_v(\d+)$`)

// NextVersionTitle bumps a trailing _vN suffix, or appends _v2 when there is
// none: "Audit" → "Audit_v2", "Audit_v2" → "Audit_v3".
func NextVersionTitle(title string) string {
	m := versionSuffix.FindStringSubmatchIndex(title)
	if m == nil {
		return title + "_v2"
	}
	n, err := strconv.Atoi(title[m[2]:m[3]])
	if err != nil {
		return title + "_v2"
	}
	return title[:m[0]] + "_v" + strconv.Itoa(n+1)
}

func nullInt16(v int) sql.NullInt16 {
	return sql.NullInt16{Int16: int16(v), Valid: true}
}
