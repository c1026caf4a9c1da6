package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/compare"
	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/email"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
)

// assessConcurrency caps in-flight AI calls per job.
const assessConcurrency = 4

// ErrNoRiskAnalyzed is returned when the AI could not score a single risk of
// the project. The Runner retries it like any other error.
var ErrNoRiskAnalyzed = errors.New("worker: no risk could be analyzed")

// ResultStore is the slice of *store.Store the job writes through.
type ResultStore interface {
	PersistAIAnalysis(ctx context.Context, id uuid.UUID, results, summary any) (db.AiAnalysis, error)
	MarkAIAnalysisFailed(ctx context.Context, id uuid.UUID, reason string) (db.AiAnalysis, error)
}

// ─── RESULT SHAPES ────────────────────────────────────────────────────────────

// RiskResult is the stored outcome for one risk of the project.
type RiskResult struct {
	RiskID          uuid.UUID                     `json:"risk_id"`
	Title           string                        `json:"title"`
	Human           scoring.Assessment            `json:"human"`
	AI              scoring.Assessment            `json:"ia"`
	Causes          []string                      `json:"causes"`
	Recommendations []string                      `json:"recommendations"`
	Justification   string                        `json:"justification"`
	Provider        string                        `json:"provider,omitempty"`
	Comparison      compare.Comparison            `json:"comparison"`
	Agreement       compare.ProjectAgreementLevel `json:"agreement"`
	Analysis        string                        `json:"analysis"`
}

// Summary aggregates the per-risk results.
type Summary struct {
	Total                 int            `json:"total_risks"`
	Analyzed              int            `json:"analyzed"`
	Skipped               int            `json:"skipped"`
	ClassificationMatches int            `json:"classification_matches"`
	AverageScoreDiff      float64        `json:"average_score_difference"`
	Agreements            map[string]int `json:"agreements"`
}

// ─── JOB ──────────────────────────────────────────────────────────────────────

// Job holds the dependencies for the project AI-analysis pipeline.
type Job struct {
	q        db.Querier
	store    ResultStore
	assessor ai.Assessor
	mailer   email.Sender
	bus      *events.Bus
	logger   *slog.Logger
}

// NewJob constructs a Job with all required dependencies. A nil mailer
// disables the notification email.
func NewJob(
	q db.Querier,
	st ResultStore,
	assessor ai.Assessor,
	mailer email.Sender,
	bus *events.Bus,
	logger *slog.Logger,
) *Job {
	if mailer == nil {
		mailer = email.Discard{}
	}
	return &Job{
		q:        q,
		store:    st,
		assessor: assessor,
		mailer:   mailer,
		bus:      bus,
		logger:   logger,
	}
}

// Run executes the full pipeline for a single AI analysis:
//
//  1. Load the analysis, skip it when already terminal, mark it processing.
//  2. Load the project and its risks.
//  3. Ask the AI to assess every risk, at most assessConcurrency at a time.
//  4. Compare each AI assessment with the human one.
//  5. Persist results and summary, emit the completion event.
//  6. Send the notification email.
//
// Any error is returned to the Runner, which will retry up to MaxRetries times
// before calling Fail.
func (j *Job) Run(ctx context.Context, analysisID uuid.UUID) error {
	log := j.logger.With("ai_analysis_id", analysisID)
	log.Info("job: starting")

	// ── 1. Load and claim ─────────────────────────────────────────────────────
	analysis, err := j.q.GetAIAnalysisByID(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("job: get analysis: %w", err)
	}
	if analysis.Status == db.AIStatusComplete || analysis.Status == db.AIStatusFailed {
		log.Info("job: analysis already terminal, skipping", "status", analysis.Status)
		return nil
	}
	if err := j.q.MarkAIAnalysisProcessing(ctx, analysisID); err != nil {
		return fmt.Errorf("job: mark processing: %w", err)
	}

	// ── 2. Load project and risks ─────────────────────────────────────────────
	project, err := j.q.GetProjectByID(ctx, analysis.ProjectID)
	if err != nil {
		return fmt.Errorf("job: get project: %w", err)
	}
	risks, err := j.q.ListProjectRisks(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("job: list risks: %w", err)
	}
	if len(risks) == 0 {
		return fmt.Errorf("job: project %s has no risks", project.ID)
	}
	log.Debug("job: loaded risks", "count", len(risks))

	// ── 3 & 4. Assess and compare ─────────────────────────────────────────────
	results := j.assessAll(ctx, project, risks, log)

	analyzed := make([]RiskResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			analyzed = append(analyzed, *r)
		}
	}
	if len(analyzed) == 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("job: %w", ctx.Err())
		}
		return ErrNoRiskAnalyzed
	}
	summary := Summarize(len(risks), analyzed)

	// ── 5. Persist ────────────────────────────────────────────────────────────
	if _, err := j.store.PersistAIAnalysis(ctx, analysisID, analyzed, summary); err != nil {
		return fmt.Errorf("job: persist analysis: %w", err)
	}
	log.Info("job: analysis persisted", "analyzed", summary.Analyzed, "skipped", summary.Skipped)

	j.bus.Emit(events.AIAnalysisCompleted, events.AIAnalysisPayload{
		AnalysisID: analysisID,
		ProjectID:  project.ID,
		UserID:     analysis.UserID,
		Analyzed:   summary.Analyzed,
		Skipped:    summary.Skipped,
		Agreements: summary.Agreements,
	})

	// ── 6. Notify ─────────────────────────────────────────────────────────────
	if !analysis.NotifyEmail.Valid || analysis.NotifyEmail.String == "" {
		return nil
	}
	if err := j.mailer.SendAnalysisReady(ctx, email.AnalysisReadyParams{
		To:           analysis.NotifyEmail.String,
		ProjectTitle: project.Title,
		ProjectID:    project.ID.String(),
		Analyzed:     summary.Analyzed,
		Skipped:      summary.Skipped,
	}); err != nil {
		// The results are stored; a lost email must not rerun the AI.
		log.Error("job: failed to send analysis email", "error", err)
	}
	return nil
}

// Fail marks the analysis permanently failed and emits the completion event
// with Failed set.
func (j *Job) Fail(ctx context.Context, analysisID uuid.UUID, cause error) error {
	analysis, err := j.store.MarkAIAnalysisFailed(ctx, analysisID, cause.Error())
	if err != nil {
		return fmt.Errorf("job: mark failed: %w", err)
	}
	j.bus.Emit(events.AIAnalysisCompleted, events.AIAnalysisPayload{
		AnalysisID: analysisID,
		ProjectID:  analysis.ProjectID,
		UserID:     analysis.UserID,
		Failed:     true,
	})
	return nil
}

// assessAll returns one entry per risk, nil where the AI failed.
func (j *Job) assessAll(ctx context.Context, project db.Project, risks []db.ProjectRisk, log *slog.Logger) []*RiskResult {
	results := make([]*RiskResult, len(risks))

	var g errgroup.Group
	g.SetLimit(assessConcurrency)
	for i, risk := range risks {
		g.Go(func() error {
			start := time.Now()
			res, err := j.assessor.Assess(ctx, scoring.RiskInput{
				Description: risk.Description,
				Category:    risk.Category,
				Type:        risk.RiskType,
				Sector:      project.Sector,
			})
			if err == nil {
				var rr RiskResult
				rr, err = buildResult(risk, res)
				if err == nil {
					results[i] = &rr
				}
			}
			if err != nil {
				log.Warn("job: risk skipped", "risk_id", risk.ID, "error", err)
				return nil
			}
			log.Debug("job: risk assessed", "risk_id", risk.ID, "provider", res.Provider, "took", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func buildResult(risk db.ProjectRisk, res ai.Result) (RiskResult, error) {
	aiAssessment, err := res.Assessment()
	if err != nil {
		return RiskResult{}, fmt.Errorf("ai assessment: %w", err)
	}
	human := store.RiskAssessment(risk)
	cmp := compare.Compare(human, aiAssessment)

	return RiskResult{
		RiskID:          risk.ID,
		Title:           risk.Title,
		Human:           human,
		AI:              aiAssessment,
		Causes:          res.Causes,
		Recommendations: res.Recommendations,
		Justification:   res.Justification,
		Provider:        res.Provider,
		Comparison:      cmp,
		Agreement:       compare.ProjectAgreement(cmp.Score.Difference, cmp.ClassificationsMatch),
		Analysis:        analysisText(human, aiAssessment, cmp.Score.Difference),
	}, nil
}

// analysisText is the one-line verdict shown next to each risk.
func analysisText(human, ia scoring.Assessment, scoreDiff int) string {
	var text string
	if human.Classification == ia.Classification {
		text = fmt.Sprintf("Les deux analyses concordent sur la classification '%s'.", human.Classification.Label())
	} else {
		text = fmt.Sprintf("Divergence : Humain=%s, IA=%s.", human.Classification.Label(), ia.Classification.Label())
	}
	return text + fmt.Sprintf(" Différence de score : %d points.", scoreDiff)
}

// Summarize aggregates analyzed results out of total risks.
func Summarize(total int, analyzed []RiskResult) Summary {
	s := Summary{
		Total:      total,
		Analyzed:   len(analyzed),
		Skipped:    total - len(analyzed),
		Agreements: map[string]int{},
	}
	if len(analyzed) == 0 {
		return s
	}
	sum := 0
	for _, r := range analyzed {
		if r.Comparison.ClassificationsMatch {
			s.ClassificationMatches++
		}
		sum += r.Comparison.Score.Difference
		s.Agreements[string(r.Agreement)]++
	}
	s.AverageScoreDiff = float64(sum) / float64(len(analyzed))
	return s
}
