package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/workflow"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrAIAnalysisInProgress is returned by RequestAIAnalysis when the project
// already has a pending or processing analysis. The handler returns the
// existing row with 202 so a double tap in the client does not queue twice.
var ErrAIAnalysisInProgress = errors.New("store: ai analysis already in progress")

// ErrProjectIncomplete is returned by RequestAIAnalysis when the project has
// no risks or a risk that needs a mitigation still lacks one.
var ErrProjectIncomplete = errors.New("store: project is incomplete")

// IncompleteProjectError carries the number of blocking risks.
// errors.Is(err, ErrProjectIncomplete) holds for it.
type IncompleteProjectError struct {
	Risks   int // total risks in the project
	Pending int // risks still requiring a mitigation
}

func (e *IncompleteProjectError) Error() string {
	if e.Risks == 0 {
		return fmt.Sprintf("%v: no risks", ErrProjectIncomplete)
	}
	return fmt.Sprintf("%v: %d risk(s) without mitigation and residual assessment", ErrProjectIncomplete, e.Pending)
}

func (e *IncompleteProjectError) Unwrap() error { return ErrProjectIncomplete }

// ─── METHODS ─────────────────────────────────────────────────────────────────

// RequestAIAnalysis atomically:
//
//  1. Checks the latest analysis of the project (in-progress guard).
//  2. Checks that every risk requiring a mitigation has one.
//  3. Creates a new pending analysis row.
//
// notifyEmail, when not empty, receives the "analysis ready" email. On
// ErrAIAnalysisInProgress the in-flight row is returned alongside the error.
func (s *Store) RequestAIAnalysis(ctx context.Context, projectID uuid.UUID, userID, notifyEmail string) (db.AiAnalysis, error) {
	var analysis db.AiAnalysis

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		latest, err := q.GetLatestAIAnalysis(ctx, projectID)
		switch {
		case err == nil:
			if latest.Status == db.AIStatusPending || latest.Status == db.AIStatusProcessing {
				analysis = latest
				return ErrAIAnalysisInProgress
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("RequestAIAnalysis: get latest: %w", err)
		}

		rows, err := q.ListProjectRisks(ctx, projectID)
		if err != nil {
			return fmt.Errorf("RequestAIAnalysis: list risks: %w", err)
		}
		risks := WorkflowRisks(rows)
		pending := 0
		for _, r := range risks {
			if workflow.RequiresMitigation(r) && !r.Mitigated() {
				pending++
			}
		}
		if len(risks) == 0 || pending > 0 {
			return &IncompleteProjectError{Risks: len(risks), Pending: pending}
		}

		created, err := q.CreateAIAnalysis(ctx, db.CreateAIAnalysisParams{
			ID:          uuid.New(),
			ProjectID:   projectID,
			UserID:      userID,
			NotifyEmail: sql.NullString{String: notifyEmail, Valid: notifyEmail != ""},
		})
		if err != nil {
			return fmt.Errorf("RequestAIAnalysis: create: %w", err)
		}
		analysis = created
		return nil
	})

	if errors.Is(err, ErrAIAnalysisInProgress) {
		return analysis, ErrAIAnalysisInProgress
	}
	if err != nil {
		return db.AiAnalysis{}, err
	}
	return analysis, nil
}

// PersistAIAnalysis stores the per-risk results and the project summary and
// marks the analysis complete. results and summary are marshalled to JSONB.
func (s *Store) PersistAIAnalysis(ctx context.Context, id uuid.UUID, results, summary any) (db.AiAnalysis, error) {
	res, err := nullJSON(results)
	if err != nil {
		return db.AiAnalysis{}, fmt.Errorf("PersistAIAnalysis: marshal results: %w", err)
	}
	sum, err := nullJSON(summary)
	if err != nil {
		return db.AiAnalysis{}, fmt.Errorf("PersistAIAnalysis: marshal summary: %w", err)
	}
	analysis, err := s.q.CompleteAIAnalysis(ctx, db.CompleteAIAnalysisParams{
		ID:      id,
		Results: res,
		Summary: sum,
	})
	if err != nil {
		return db.AiAnalysis{}, fmt.Errorf("PersistAIAnalysis: %w", err)
	}
	return analysis, nil
}

// MarkAIAnalysisFailed sets the analysis status to failed with a descriptive
// message. Called by the worker after exhausting retries. This is a
// single-query write, but it lives here because it is part of the analysis
// lifecycle and the worker should not call db.Querier directly for this.
func (s *Store) MarkAIAnalysisFailed(ctx context.Context, id uuid.UUID, reason string) (db.AiAnalysis, error) {
	analysis, err := s.q.FailAIAnalysis(ctx, db.FailAIAnalysisParams{
		ID:           id,
		ErrorMessage: sql.NullString{String: reason, Valid: true},
	})
	if err != nil {
		return db.AiAnalysis{}, fmt.Errorf("MarkAIAnalysisFailed: %w", err)
	}
	return analysis, nil
}
