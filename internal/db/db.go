// Package db is the typed query layer over Postgres. The layout follows sqlc's
// output (see sqlc.yaml at the repository root): one file per query file, a
// Querier interface, and prepared statements validated at startup.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// allQueries lists every statement Prepare validates against the live schema.
var allQueries = []struct {
	name  string
	query string
}{
	{"CreateAnalysis", createAnalysis},
	{"GetAnalysisByID", getAnalysisByID},
	{"AnalysisExists", analysisExists},
	{"ListAnalysesByUser", listAnalysesByUser},
	{"CountAnalysesByUser", countAnalysesByUser},
	{"ListAllAnalysesByUser", listAllAnalysesByUser},
	{"ListResidualsByParent", listResidualsByParent},
	{"CreateProject", createProject},
	{"GetProjectByID", getProjectByID},
	{"ListProjectsByUser", listProjectsByUser},
	{"ListProjectTitlesByUser", listProjectTitlesByUser},
	{"UpdateProject", updateProject},
	{"UpdateProjectStatus", updateProjectStatus},
	{"DeleteProject", deleteProject},
	{"CreateProjectRisk", createProjectRisk},
	{"GetProjectRisk", getProjectRisk},
	{"ListProjectRisks", listProjectRisks},
	{"NextRiskPosition", nextRiskPosition},
	{"UpdateRiskMitigation", updateRiskMitigation},
	{"DeleteProjectRisk", deleteProjectRisk},
	{"CreateAIAnalysis", createAIAnalysis},
	{"GetAIAnalysisByID", getAIAnalysisByID},
	{"GetLatestAIAnalysis", getLatestAIAnalysis},
	{"ListPendingAIAnalyses", listPendingAIAnalyses},
	{"MarkAIAnalysisProcessing", markAIAnalysisProcessing},
	{"CompleteAIAnalysis", completeAIAnalysis},
	{"FailAIAnalysis", failAIAnalysis},
}

// Prepare prepares every query up front so a schema mismatch fails startup
// instead of the first request.
func Prepare(ctx context.Context, db DBTX) (*Queries, error) {
	q := Queries{db: db, stmts: make(map[string]*sql.Stmt, len(allQueries))}
	for _, aq := range allQueries {
		stmt, err := db.PrepareContext(ctx, aq.query)
		if err != nil {
			_ = q.Close()
			return nil, fmt.Errorf("error preparing query %s: %w", aq.name, err)
		}
		q.stmts[aq.query] = stmt
	}
	return &q, nil
}

func (q *Queries) Close() error {
	var errs []error
	for _, aq := range allQueries {
		if stmt, ok := q.stmts[aq.query]; ok {
			if cerr := stmt.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("error closing %s: %w", aq.name, cerr))
			}
		}
	}
	return errors.Join(errs...)
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt := q.stmts[query]
	switch {
	case stmt != nil && q.tx != nil:
		return q.tx.StmtContext(ctx, stmt).ExecContext(ctx, args...)
	case stmt != nil:
		return stmt.ExecContext(ctx, args...)
	default:
		return q.db.ExecContext(ctx, query, args...)
	}
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt := q.stmts[query]
	switch {
	case stmt != nil && q.tx != nil:
		return q.tx.StmtContext(ctx, stmt).QueryContext(ctx, args...)
	case stmt != nil:
		return stmt.QueryContext(ctx, args...)
	default:
		return q.db.QueryContext(ctx, query, args...)
	}
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	stmt := q.stmts[query]
	switch {
	case stmt != nil && q.tx != nil:
		return q.tx.StmtContext(ctx, stmt).QueryRowContext(ctx, args...)
	case stmt != nil:
		return stmt.QueryRowContext(ctx, args...)
	default:
		return q.db.QueryRowContext(ctx, query, args...)
	}
}

type Queries struct {
	db    DBTX
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db:    tx,
		tx:    tx,
		stmts: q.stmts,
	}
}
