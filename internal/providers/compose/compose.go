// Package compose hosts the prompt-composition capability. A composer turns
// a context pack (direction, profile, lineage, preferences) into a candidate
// prompt package ready for gating and production.
package compose

import (
	"context"

	"atelier/internal/domain"
)

// ContextPack is everything the composer may condition on for one node.
type ContextPack struct {
	Mode        domain.SessionMode
	MediaType   domain.MediaType
	Depth       int
	MaxDepth    int
	Direction   domain.Direction
	Profile     domain.SalienceProfile
	Parent      *domain.GenerationNode
	Preferences domain.Preferences
	// PinnedPrompts are prompts of nodes the user pinned recently; they act
	// as continuity anchors.
	PinnedPrompts []string
}

// Package is a candidate generation request produced by composition.
type Package struct {
	Prompt        string                 `json:"prompt"`
	Negative      []string               `json:"negative"`
	Meta          domain.PromptMeta      `json:"meta"`
	Explanation   string                 `json:"explanation"`
	SalienceDelta []domain.SalienceDelta `json:"salience_delta"`
}

// Composer is the capability contract for prompt composition. It returns
// *domain.RevisionError when the provider declines the context pack.
type Composer interface {
	Compose(ctx context.Context, pack ContextPack) (*Package, error)
}
