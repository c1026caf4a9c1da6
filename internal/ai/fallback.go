package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// fallbackAssessor wraps two Assessor implementations. It calls the primary
// first; if that returns an error it logs the failure and tries the secondary.
// main.go picks the order: the OpenAI-compatible endpoint first, Anthropic as
// the safety net.
type fallbackAssessor struct {
	primary   Assessor
	secondary Assessor
	logger    *slog.Logger
}

// NewFallbackAssessor returns an Assessor that calls primary and, on failure,
// falls back to secondary. Either argument may be nil: if primary is nil it
// goes straight to secondary; if secondary is nil and primary fails, the
// primary error is returned directly.
func NewFallbackAssessor(primary, secondary Assessor, logger *slog.Logger) Assessor {
	return &fallbackAssessor{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// Assess tries the primary Assessor. If it fails and a secondary is
// configured, it logs the primary error and tries the secondary.
func (f *fallbackAssessor) Assess(ctx context.Context, risk scoring.RiskInput) (Result, error) {
	if f.primary != nil {
		result, err := f.primary.Assess(ctx, risk)
		if err == nil {
			return result, nil
		}
		if f.secondary == nil {
			return Result{}, fmt.Errorf("ai: primary failed and no secondary configured: %w", err)
		}
		f.logger.Warn("ai: primary assessor failed, trying secondary",
			"error", err,
			"category", risk.Category,
		)
	}
	if f.secondary == nil {
		return Result{}, fmt.Errorf("%w: no assessor configured", ErrUnavailable)
	}

	return f.secondary.Assess(ctx, risk)
}
