package compose

import (
	"context"
	"fmt"
	"strings"

	"atelier/internal/domain"
	"atelier/internal/providers/genai"
)

// GeminiComposer asks the model for a structured prompt package, falling
// back to the deterministic composer when the remote call cannot be made or
// returns something unusable. A needs_revision verdict from the model is
// surfaced, not swallowed by the fallback.
type GeminiComposer struct {
	client   *genai.Client
	fallback Composer
}

// NewGeminiComposer wraps client with a fallback. A nil fallback defaults to
// the static composer.
func NewGeminiComposer(client *genai.Client, fallback Composer) *GeminiComposer {
	if fallback == nil {
		fallback = NewStaticComposer()
	}
	return &GeminiComposer{client: client, fallback: fallback}
}

type packagePayload struct {
	NeedsRevision bool     `json:"needs_revision"`
	Issues        []string `json:"issues"`
	Prompt        string   `json:"prompt"`
	Negative      []string `json:"negative"`
	Explanation   string   `json:"explanation"`
	AspectRatio   string   `json:"aspect_ratio"`
	Guidance      float64  `json:"guidance"`
	Strength      float64  `json:"strength"`
	Duration      int      `json:"duration_seconds"`
	FPS           int      `json:"fps"`
	SalienceDelta []struct {
		Axis  string  `json:"axis"`
		Delta float64 `json:"delta"`
	} `json:"salience_delta"`
}

func (g *GeminiComposer) Compose(ctx context.Context, pack ContextPack) (*Package, error) {
	if g.client.Offline() {
		return g.fallback.Compose(ctx, pack)
	}

	var payload packagePayload
	if err := g.client.GenerateJSON(ctx, buildComposePrompt(pack), 0.8, &payload); err != nil {
		return g.fallback.Compose(ctx, pack)
	}
	if payload.NeedsRevision {
		return nil, &domain.RevisionError{Issues: payload.Issues}
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		return g.fallback.Compose(ctx, pack)
	}

	// Parameters the model does not own come from the deterministic path.
	baseline, err := g.fallback.Compose(ctx, pack)
	if err != nil {
		return nil, err
	}
	meta := baseline.Meta
	if payload.AspectRatio != "" {
		meta.AspectRatio = payload.AspectRatio
	}
	if payload.Guidance > 0 {
		meta.Guidance = payload.Guidance
	}
	if payload.Strength > 0 {
		meta.Strength = clampUnit(payload.Strength)
	}
	if pack.MediaType == domain.MediaVideo {
		if payload.Duration > 0 {
			meta.DurationSeconds = payload.Duration
		}
		if payload.FPS > 0 {
			meta.FPS = payload.FPS
		}
	}

	deltaList := baseline.SalienceDelta
	if len(payload.SalienceDelta) >= 2 {
		deltaList = deltaList[:0]
		for _, d := range payload.SalienceDelta {
			if d.Axis == "" {
				continue
			}
			deltaList = append(deltaList, domain.SalienceDelta{Axis: d.Axis, Delta: d.Delta})
			if len(deltaList) == 6 {
				break
			}
		}
	}

	explanation := strings.TrimSpace(payload.Explanation)
	if explanation == "" {
		explanation = baseline.Explanation
	}

	return &Package{
		Prompt:        strings.TrimSpace(payload.Prompt),
		Negative:      dedupe(append(payload.Negative, baseline.Negative...)),
		Meta:          meta,
		Explanation:   explanation,
		SalienceDelta: deltaList,
	}, nil
}

func buildComposePrompt(pack ContextPack) string {
	var b strings.Builder
	b.WriteString("You are a prompt composer for a generative art pipeline. Compose one generation prompt.\n")
	fmt.Fprintf(&b, "Mode: %s; media: %s; depth %d of %d.\n", pack.Mode, pack.MediaType, pack.Depth, pack.MaxDepth)
	fmt.Fprintf(&b, "Direction %q: %s\nSkeleton: %s\n", pack.Direction.Label, pack.Direction.Intent, pack.Direction.PromptSkeleton)
	b.WriteString("Profile axes (name weight value):\n")
	for _, a := range pack.Profile.Axes {
		fmt.Fprintf(&b, "- %s %.2f %.2f\n", a.Name, a.Weight, a.Value)
	}
	if pack.Parent != nil && pack.Parent.Prompt != "" {
		fmt.Fprintf(&b, "Parent prompt (continue from it): %s\n", pack.Parent.Prompt)
	}
	if len(pack.PinnedPrompts) > 0 {
		fmt.Fprintf(&b, "User-pinned prompts to respect: %s\n", strings.Join(pack.PinnedPrompts, " | "))
	}
	if len(pack.Preferences.StyleAffinity) > 0 {
		b.WriteString("Style affinities (0-1):\n")
		for tag, v := range pack.Preferences.StyleAffinity {
			fmt.Fprintf(&b, "- %s: %.2f\n", tag, v)
		}
	}
	fmt.Fprintf(&b, "Exploration rate: %.2f (higher means drift further from the references).\n", pack.Preferences.ExplorationRate)
	b.WriteString(`Respond with JSON only:
{"needs_revision": false, "issues": [], "prompt": "", "negative": [], "explanation": "", "aspect_ratio": "", "guidance": 0, "strength": 0, "duration_seconds": 0, "fps": 0, "salience_delta": [{"axis": "", "delta": 0}]}
Use 2-6 salience_delta entries with small signed values. Set needs_revision true with issues when the pack is contradictory.`)
	return b.String()
}

var _ Composer = (*GeminiComposer)(nil)
