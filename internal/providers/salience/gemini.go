package salience

import (
	"context"
	"fmt"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"atelier/internal/domain"
	"atelier/internal/providers/genai"
)

// GeminiAnalyzer asks the model for a structured profile and direction set,
// falling back to the deterministic analyzer whenever the remote call cannot
// be made or returns something unusable.
type GeminiAnalyzer struct {
	client   *genai.Client
	fallback Analyzer
}

// NewGeminiAnalyzer wraps client with a fallback. A nil fallback defaults to
// the static analyzer.
func NewGeminiAnalyzer(client *genai.Client, fallback Analyzer) *GeminiAnalyzer {
	if fallback == nil {
		fallback = NewStaticAnalyzer()
	}
	return &GeminiAnalyzer{client: client, fallback: fallback}
}

type profilePayload struct {
	NeedsRevision bool     `json:"needs_revision"`
	Issues        []string `json:"issues"`
	Axes          []struct {
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
		Value  float64 `json:"value"`
	} `json:"axes"`
	StyleTags []string `json:"style_tags"`
	AvoidTags []string `json:"avoid_tags"`
	Notes     string   `json:"notes"`
}

type directionsPayload struct {
	NeedsRevision bool     `json:"needs_revision"`
	Issues        []string `json:"issues"`
	Directions    []struct {
		Label          string             `json:"label"`
		Intent         string             `json:"intent"`
		AxisPush       map[string]float64 `json:"axis_push"`
		AxisPull       map[string]float64 `json:"axis_pull"`
		StyleTags      []string           `json:"style_tags"`
		AvoidTags      []string           `json:"avoid_tags"`
		PromptSkeleton string             `json:"prompt_skeleton"`
	} `json:"directions"`
}

func (g *GeminiAnalyzer) AnalyzeSalience(ctx context.Context, req Request) (*domain.SalienceProfile, error) {
	if len(req.ReferenceURLs) == 0 {
		return nil, &domain.RevisionError{Issues: []string{"at least one reference is required"}}
	}
	if g.client.Offline() {
		return g.fallback.AnalyzeSalience(ctx, req)
	}

	var payload profilePayload
	if err := g.client.GenerateJSON(ctx, buildAnalyzePrompt(req), 0.4, &payload); err != nil {
		return g.fallback.AnalyzeSalience(ctx, req)
	}
	if payload.NeedsRevision {
		return nil, &domain.RevisionError{Issues: payload.Issues}
	}
	if len(payload.Axes) < 2 {
		return g.fallback.AnalyzeSalience(ctx, req)
	}

	axes := make([]domain.SalienceAxis, 0, len(payload.Axes))
	for _, a := range payload.Axes {
		if a.Name == "" {
			continue
		}
		axes = append(axes, domain.SalienceAxis{
			Name:   a.Name,
			Weight: clampUnit(a.Weight),
			Value:  clampUnit(a.Value),
		})
	}
	if len(axes) < 2 {
		return g.fallback.AnalyzeSalience(ctx, req)
	}
	return &domain.SalienceProfile{
		Axes:      axes,
		StyleTags: payload.StyleTags,
		AvoidTags: payload.AvoidTags,
		Notes:     payload.Notes,
	}, nil
}

func (g *GeminiAnalyzer) PlanDirections(ctx context.Context, profile *domain.SalienceProfile, n int, mode domain.SessionMode) ([]domain.Direction, error) {
	if profile == nil || len(profile.Axes) == 0 {
		return nil, &domain.RevisionError{Issues: []string{"profile has no axes to branch from"}}
	}
	if g.client.Offline() {
		return g.fallback.PlanDirections(ctx, profile, n, mode)
	}

	var payload directionsPayload
	if err := g.client.GenerateJSON(ctx, buildPlanPrompt(profile, n, mode), 0.7, &payload); err != nil {
		return g.fallback.PlanDirections(ctx, profile, n, mode)
	}
	if payload.NeedsRevision {
		return nil, &domain.RevisionError{Issues: payload.Issues}
	}
	if len(payload.Directions) == 0 {
		return g.fallback.PlanDirections(ctx, profile, n, mode)
	}

	directions := make([]domain.Direction, 0, n)
	for i, d := range payload.Directions {
		if i >= n {
			break
		}
		label := strings.TrimSpace(d.Label)
		if len(label) > domain.MaxDirectionLabelLen {
			label = label[:domain.MaxDirectionLabelLen]
		}
		intent := strings.TrimSpace(d.Intent)
		if len(intent) > domain.MaxDirectionIntentLen {
			intent = intent[:domain.MaxDirectionIntentLen]
		}
		directions = append(directions, domain.Direction{
			ID:             shortuuid.New(),
			Index:          i,
			Label:          label,
			Intent:         intent,
			AxisPush:       d.AxisPush,
			AxisPull:       d.AxisPull,
			StyleTags:      d.StyleTags,
			AvoidTags:      d.AvoidTags,
			PromptSkeleton: d.PromptSkeleton,
			Nodes:          []domain.GenerationNode{},
		})
	}
	if len(directions) == 0 {
		return g.fallback.PlanDirections(ctx, profile, n, mode)
	}
	return directions, nil
}

func buildAnalyzePrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a visual development analyst. Derive a salience profile from the reference material below.\n")
	fmt.Fprintf(&b, "Mode: %s\n", req.Mode)
	if req.Caption != "" {
		fmt.Fprintf(&b, "Caption: %s\n", req.Caption)
	}
	b.WriteString("References:\n")
	for _, u := range req.ReferenceURLs {
		fmt.Fprintf(&b, "- %s\n", u)
	}
	if len(req.PreferenceWeights) > 0 {
		b.WriteString("Known user axis preferences (0-1):\n")
		for axis, w := range req.PreferenceWeights {
			fmt.Fprintf(&b, "- %s: %.2f\n", axis, w)
		}
	}
	b.WriteString(`Respond with JSON only:
{"needs_revision": false, "issues": [], "axes": [{"name": "snake_case_axis", "weight": 0.0, "value": 0.0}], "style_tags": [], "avoid_tags": [], "notes": ""}
Use 6-10 axes with weight and value in [0,1]. Set needs_revision true with issues when the references are unusable.`)
	return b.String()
}

func buildPlanPrompt(profile *domain.SalienceProfile, n int, mode domain.SessionMode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Branch this salience profile into %d distinct creative directions for %s.\n", n, modePhrase(mode))
	b.WriteString("Profile axes (name weight value):\n")
	for _, a := range profile.Axes {
		fmt.Fprintf(&b, "- %s %.2f %.2f\n", a.Name, a.Weight, a.Value)
	}
	fmt.Fprintf(&b, "Style tags: %s\nAvoid tags: %s\n", strings.Join(profile.StyleTags, ", "), strings.Join(profile.AvoidTags, ", "))
	b.WriteString(`Respond with JSON only:
{"needs_revision": false, "issues": [], "directions": [{"label": "<=28 chars", "intent": "<=120 chars", "axis_push": {}, "axis_pull": {}, "style_tags": [], "avoid_tags": [], "prompt_skeleton": ""}]}
Each direction pushes one or two axes and pulls against one; skeletons must be reusable prompt fragments.`)
	return b.String()
}

var _ Analyzer = (*GeminiAnalyzer)(nil)
