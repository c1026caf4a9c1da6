// Package metrics exposes Prometheus counters fed by the event bus. Nothing
// in the domain packages imports it: handlers and the worker emit events and
// Subscribe turns them into samples.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyashahama/kinney-risk-backend/internal/events"
)

// Metrics holds every collector. Build it with New.
type Metrics struct {
	gatherer prometheus.Gatherer

	analyses          *prometheus.CounterVec
	normalizedScore   prometheus.Histogram
	residuals         *prometheus.CounterVec
	projectsCompleted prometheus.Counter
	aiAnalyses        *prometheus.CounterVec
	aiRiskAgreement   *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests so runs do not collide on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		// analyses counts questionnaire analyses by classification
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinney_analyses_total",
			Help: "Questionnaire analyses created, by classification",
		}, []string{"classification"}),

		// normalizedScore tracks the 0-100 score of new analyses
		normalizedScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinney_analysis_normalized_score",
			Help:    "Normalized (0-100) score of created analyses",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		// residuals counts residual evaluations by outcome against their parent
		residuals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinney_residuals_total",
			Help: "Residual evaluations, by outcome against the original score",
		}, []string{"outcome"}),

		projectsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "kinney_projects_completed_total",
			Help: "Projects that reached the completed status",
		}),

		// aiAnalyses counts project AI analyses by terminal result
		aiAnalyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinney_ai_analyses_total",
			Help: "Project AI analyses, by result",
		}, []string{"result"}),

		// aiRiskAgreement counts human/AI agreement per analyzed risk
		aiRiskAgreement: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinney_ai_risk_agreement_total",
			Help: "Risks compared with the AI, by agreement level",
		}, []string{"level"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Subscribe attaches the collectors to bus. The returned function detaches
// them.
func (m *Metrics) Subscribe(bus *events.Bus) (unsubscribe func()) {
	offs := []func(){
		bus.On(events.AnalysisCreated, func(p any) {
			if a, ok := p.(events.AnalysisPayload); ok {
				m.analyses.WithLabelValues(string(a.Assessment.Classification)).Inc()
				m.normalizedScore.Observe(float64(a.Assessment.NormalizedScore))
			}
		}),
		bus.On(events.ResidualCreated, func(p any) {
			if a, ok := p.(events.AnalysisPayload); ok {
				m.residuals.WithLabelValues(residualOutcome(a)).Inc()
			}
		}),
		bus.On(events.ProjectCompleted, func(any) {
			m.projectsCompleted.Inc()
		}),
		bus.On(events.AIAnalysisCompleted, func(p any) {
			a, ok := p.(events.AIAnalysisPayload)
			if !ok {
				return
			}
			if a.Failed {
				m.aiAnalyses.WithLabelValues("failed").Inc()
				return
			}
			m.aiAnalyses.WithLabelValues("complete").Inc()
			for level, n := range a.Agreements {
				m.aiRiskAgreement.WithLabelValues(level).Add(float64(n))
			}
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func residualOutcome(a events.AnalysisPayload) string {
	if a.Parent == nil {
		return "unknown"
	}
	switch {
	case a.Assessment.RawScore < a.Parent.RawScore:
		return "improved"
	case a.Assessment.RawScore > a.Parent.RawScore:
		return "worsened"
	default:
		return "unchanged"
	}
}
