package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// AnalysisParams is one scored questionnaire ready to be persisted.
type AnalysisParams struct {
	UserID      string
	Title       string
	Risk        scoring.RiskInput
	Assessment  scoring.Assessment
	BankVersion string
	Answers     []scoring.Answer
	// Details is the per-dimension answer breakdown kept for audit.
	Details map[scoring.Dimension][]scoring.Contribution
}

// ResidualMeasure is one mitigation measure with its re-evaluated assessment.
type ResidualMeasure struct {
	Text       string
	Impacted   []scoring.Dimension
	Assessment scoring.Assessment
	Answers    map[scoring.Dimension][]scoring.Answer
}

// ImportResult reports how many of the offered analyses were written.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrNoMeasures is returned by CreateResiduals when the request carries no
// measure at all.
var ErrNoMeasures = errors.New("store: at least one measure is required")

// ─── METHODS ─────────────────────────────────────────────────────────────────

// CreateAnalysis persists a single top-level analysis.
func (s *Store) CreateAnalysis(ctx context.Context, p AnalysisParams) (db.Analysis, error) {
	params, err := analysisRow(p)
	if err != nil {
		return db.Analysis{}, fmt.Errorf("CreateAnalysis: %w", err)
	}
	a, err := s.q.CreateAnalysis(ctx, params)
	if err != nil {
		return db.Analysis{}, fmt.Errorf("CreateAnalysis: insert: %w", err)
	}
	return a, nil
}

// CreateResiduals writes one residual analysis per measure under parent.
// Either every row is written or none is: a client retrying a half-written
// request would otherwise duplicate the measures that did land.
func (s *Store) CreateResiduals(ctx context.Context, parent db.Analysis, measures []ResidualMeasure, bankVersion string) ([]db.Analysis, error) {
	if len(measures) == 0 {
		return nil, ErrNoMeasures
	}

	rows := make([]db.CreateAnalysisParams, len(measures))
	for i, m := range measures {
		answers, err := nullJSON(m.Answers)
		if err != nil {
			return nil, fmt.Errorf("CreateResiduals: measure %d: %w", i, err)
		}
		rows[i] = db.CreateAnalysisParams{
			ID:              uuid.New(),
			UserID:          parent.UserID,
			ParentID:        uuid.NullUUID{UUID: parent.ID, Valid: true},
			Title:           parent.Title,
			Category:        parent.Category,
			RiskType:        parent.RiskType,
			Sector:          parent.Sector,
			Description:     parent.Description,
			Measure:         m.Text,
			Impacted:        dimensionStrings(m.Impacted),
			G:               int16(m.Assessment.G),
			F:               int16(m.Assessment.F),
			P:               int16(m.Assessment.P),
			RawScore:        int16(m.Assessment.RawScore),
			NormalizedScore: int16(m.Assessment.NormalizedScore),
			Classification:  string(m.Assessment.Classification),
			BankVersion:     bankVersion,
			Answers:         answers,
			// Residuals created in one request share a timestamp offset by
			// position so the chain keeps its order.
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Microsecond),
		}
	}

	var out []db.Analysis
	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		out = make([]db.Analysis, 0, len(rows))
		for i, r := range rows {
			a, err := q.CreateAnalysis(ctx, r)
			if err != nil {
				return fmt.Errorf("CreateResiduals: insert measure %d: %w", i, err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ImportAnalyses merges exported analyses into the caller's history. Rows
// whose ID already exists are skipped, as are residuals whose parent is
// neither part of the batch nor one of userID's stored analyses. Every row is
// re-owned by userID.
func (s *Store) ImportAnalyses(ctx context.Context, userID string, items []db.CreateAnalysisParams) (ImportResult, error) {
	var res ImportResult
	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		var err error
		res, err = importAnalyses(ctx, q, userID, items)
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func importAnalyses(ctx context.Context, q db.Querier, userID string, items []db.CreateAnalysisParams) (ImportResult, error) {
	res := ImportResult{Total: len(items)}

	// Parents first, then residuals, each in creation order.
	sorted := make([]db.CreateAnalysisParams, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].ParentID.Valid, sorted[j].ParentID.Valid
		if pi != pj {
			return !pi
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	seen := make(map[uuid.UUID]bool, len(sorted))
	for _, it := range sorted {
		if seen[it.ID] {
			res.Skipped++
			continue
		}
		exists, err := q.AnalysisExists(ctx, it.ID)
		if err != nil {
			return ImportResult{}, fmt.Errorf("ImportAnalyses: check %s: %w", it.ID, err)
		}
		if exists {
			res.Skipped++
			continue
		}
		if it.ParentID.Valid && !seen[it.ParentID.UUID] {
			owned, err := ownsAnalysis(ctx, q, it.ParentID.UUID, userID)
			if err != nil {
				return ImportResult{}, fmt.Errorf("ImportAnalyses: check parent %s: %w", it.ParentID.UUID, err)
			}
			if !owned {
				res.Skipped++
				continue
			}
		}

		it.UserID = userID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now().UTC()
		}
		if _, err := q.CreateAnalysis(ctx, it); err != nil {
			return ImportResult{}, fmt.Errorf("ImportAnalyses: insert %s: %w", it.ID, err)
		}
		seen[it.ID] = true
		res.Imported++
	}
	return res, nil
}

// ownsAnalysis reports whether id is a stored analysis belonging to userID.
func ownsAnalysis(ctx context.Context, q db.Querier, id uuid.UUID, userID string) (bool, error) {
	a, err := q.GetAnalysisByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.UserID == userID, nil
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func analysisRow(p AnalysisParams) (db.CreateAnalysisParams, error) {
	answers, err := nullJSON(p.Answers)
	if err != nil {
		return db.CreateAnalysisParams{}, fmt.Errorf("marshal answers: %w", err)
	}
	details, err := nullJSON(p.Details)
	if err != nil {
		return db.CreateAnalysisParams{}, fmt.Errorf("marshal details: %w", err)
	}
	a := p.Assessment
	return db.CreateAnalysisParams{
		ID:              uuid.New(),
		UserID:          p.UserID,
		Title:           p.Title,
		Category:        p.Risk.Category,
		RiskType:        p.Risk.Type,
		Sector:          p.Risk.Sector,
		Description:     p.Risk.Description,
		G:               int16(a.G),
		F:               int16(a.F),
		P:               int16(a.P),
		RawScore:        int16(a.RawScore),
		NormalizedScore: int16(a.NormalizedScore),
		Classification:  string(a.Classification),
		BankVersion:     p.BankVersion,
		Answers:         answers,
		Details:         details,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// AnalysisAssessment rebuilds the scoring view of a stored analysis.
func AnalysisAssessment(a db.Analysis) scoring.Assessment {
	return scoring.Assessment{
		G:               int(a.G),
		F:               int(a.F),
		P:               int(a.P),
		RawScore:        int(a.RawScore),
		NormalizedScore: int(a.NormalizedScore),
		Classification:  scoring.Classification(a.Classification),
	}
}

// nullJSON marshals v into a JSONB value. Nil slices and maps become NULL.
func nullJSON(v any) (pqtype.NullRawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	if string(b) == "null" {
		return pqtype.NullRawMessage{}, nil
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func dimensionStrings(ds []scoring.Dimension) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func parseDimensions(ss []string) []scoring.Dimension {
	out := make([]scoring.Dimension, 0, len(ss))
	for _, s := range ss {
		if d, err := scoring.ParseDimension(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}
