// Package salience hosts the analysis and direction-planning capability
// providers. Implementations translate reference material into a compact
// weighted profile and branch that profile into named creative directions.
package salience

import (
	"context"

	"atelier/internal/domain"
)

// Request carries everything the analyzer needs to derive a profile.
type Request struct {
	ReferenceURLs     []string
	Caption           string
	Mode              domain.SessionMode
	PreferenceWeights map[string]float64
}

// Analyzer is the capability contract for salience analysis and direction
// planning. Either call may return *domain.RevisionError when the provider
// declines the input.
type Analyzer interface {
	AnalyzeSalience(ctx context.Context, req Request) (*domain.SalienceProfile, error)
	PlanDirections(ctx context.Context, profile *domain.SalienceProfile, n int, mode domain.SessionMode) ([]domain.Direction, error)
}
