// Package email defines the interface for transactional email delivery and
// provides a Resend-backed implementation.
package email

import "context"

// AnalysisReadyParams holds the data needed to send the "AI analysis ready"
// email for a project.
type AnalysisReadyParams struct {
	To           string // recipient email address
	ProjectTitle string // used in the subject line; may be empty
	ProjectID    string // inserted into the project URL
	Analyzed     int    // risks the AI scored
	Skipped      int    // risks the AI could not score
}

// Sender is the interface the worker uses to send email. Tests inject a stub
// that records calls without hitting the network.
type Sender interface {
	// SendAnalysisReady sends the "your AI analysis is ready" email with a
	// link to the project. Called by the worker after PersistAIAnalysis
	// succeeds.
	SendAnalysisReady(ctx context.Context, p AnalysisReadyParams) error
}

// Discard is the Sender used when no email provider is configured.
type Discard struct{}

func (Discard) SendAnalysisReady(context.Context, AnalysisReadyParams) error { return nil }
