// Package gate hosts the content-validation capability. The gate approves a
// candidate prompt package as-is, approves a minimally revised replacement,
// or rejects it outright.
package gate

import (
	"context"

	"atelier/internal/providers/compose"
)

// Verdict is the outcome of validating one package. When Approved, Package
// is either the original or a minimally revised replacement; when rejected,
// Issues explains why.
type Verdict struct {
	Approved bool
	Package  *compose.Package
	Issues   []string
}

// Validator is the capability contract for gating.
type Validator interface {
	Validate(ctx context.Context, pkg *compose.Package) (*Verdict, error)
}
