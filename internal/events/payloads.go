package events

import (
	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// AnalysisPayload accompanies AnalysisCreated and ResidualCreated. For a
// residual, Parent holds the assessment it was derived from. A residual from a
// project mitigation carries the project risk's ID as AnalysisID.
type AnalysisPayload struct {
	AnalysisID uuid.UUID
	UserID     string
	Assessment scoring.Assessment
	Parent     *scoring.Assessment
}

// ProjectPayload accompanies ProjectCompleted.
type ProjectPayload struct {
	ProjectID uuid.UUID
	UserID    string
	Title     string
	Risks     int
}

// AIAnalysisPayload accompanies AIAnalysisCompleted, emitted once an AI
// analysis reaches a terminal state.
type AIAnalysisPayload struct {
	AnalysisID uuid.UUID
	ProjectID  uuid.UUID
	UserID     string
	Failed     bool
	Analyzed   int // risks the AI scored
	Skipped    int // risks the AI could not score
	// Agreements counts analyzed risks per agreement level.
	Agreements map[string]int
}
