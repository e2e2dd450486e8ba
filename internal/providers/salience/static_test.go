package salience

import (
	"context"
	"errors"
	"testing"

	"atelier/internal/domain"
)

func testRequest() Request {
	return Request{
		ReferenceURLs: []string{"https://example.com/a.png", "https://example.com/b.png"},
		Caption:       "weathered airship crew",
		Mode:          domain.ModeCharacterDesign,
	}
}

func TestAnalyzeSalienceIsDeterministic(t *testing.T) {
	a := NewStaticAnalyzer()
	first, err := a.AnalyzeSalience(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := a.AnalyzeSalience(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze again: %v", err)
	}
	if len(first.Axes) != len(second.Axes) {
		t.Fatalf("axis count differs: %d vs %d", len(first.Axes), len(second.Axes))
	}
	for i := range first.Axes {
		if first.Axes[i] != second.Axes[i] {
			t.Fatalf("axis %d differs: %+v vs %+v", i, first.Axes[i], second.Axes[i])
		}
	}
}

func TestAnalyzeSalienceShape(t *testing.T) {
	profile, err := NewStaticAnalyzer().AnalyzeSalience(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(profile.Axes) < 6 || len(profile.Axes) > 8 {
		t.Fatalf("axis count = %d, want 6..8", len(profile.Axes))
	}
	for i, axis := range profile.Axes {
		if axis.Weight < 0 || axis.Weight > 1 || axis.Value < 0 || axis.Value > 1 {
			t.Fatalf("axis %q out of unit range: %+v", axis.Name, axis)
		}
		if i > 0 && profile.Axes[i-1].Weight < axis.Weight {
			t.Fatalf("axes not sorted by weight at %d", i)
		}
	}
	if len(profile.StyleTags) == 0 || len(profile.AvoidTags) == 0 {
		t.Fatalf("expected style and avoid tags, got %v / %v", profile.StyleTags, profile.AvoidTags)
	}
	if profile.Notes == "" {
		t.Fatalf("expected profile notes")
	}
}

func TestAnalyzeSalienceRespectsPreferenceWeights(t *testing.T) {
	req := testRequest()
	req.PreferenceWeights = map[string]float64{"silhouette": 1}
	profile, err := NewStaticAnalyzer().AnalyzeSalience(context.Background(), req)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, axis := range profile.Axes {
		if axis.Name == "silhouette" {
			if axis.Weight < 0.5 {
				t.Fatalf("preferred axis weight = %v, want >= 0.5 after biasing", axis.Weight)
			}
			return
		}
	}
	t.Fatalf("silhouette axis missing from character_design profile")
}

func TestAnalyzeSalienceRequiresReferences(t *testing.T) {
	req := testRequest()
	req.ReferenceURLs = nil
	_, err := NewStaticAnalyzer().AnalyzeSalience(context.Background(), req)
	var revision *domain.RevisionError
	if !errors.As(err, &revision) {
		t.Fatalf("err = %v, want RevisionError", err)
	}
}

func TestPlanDirections(t *testing.T) {
	a := NewStaticAnalyzer()
	profile, err := a.AnalyzeSalience(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	directions, err := a.PlanDirections(context.Background(), profile, 6, domain.ModeCharacterDesign)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(directions) != 6 {
		t.Fatalf("direction count = %d, want 6", len(directions))
	}
	seen := map[string]struct{}{}
	for i, dir := range directions {
		if dir.ID == "" {
			t.Fatalf("direction %d has no id", i)
		}
		if _, dup := seen[dir.ID]; dup {
			t.Fatalf("duplicate direction id %q", dir.ID)
		}
		seen[dir.ID] = struct{}{}
		if dir.Index != i {
			t.Fatalf("direction %d has index %d", i, dir.Index)
		}
		if len(dir.Label) == 0 || len(dir.Label) > domain.MaxDirectionLabelLen {
			t.Fatalf("label %q outside length bounds", dir.Label)
		}
		if len(dir.Intent) == 0 || len(dir.Intent) > domain.MaxDirectionIntentLen {
			t.Fatalf("intent %q outside length bounds", dir.Intent)
		}
		if len(dir.AxisPush) == 0 || len(dir.AxisPull) == 0 {
			t.Fatalf("direction %d missing axis push/pull", i)
		}
		if dir.PromptSkeleton == "" {
			t.Fatalf("direction %d missing prompt skeleton", i)
		}
		if dir.Nodes == nil || len(dir.Nodes) != 0 {
			t.Fatalf("direction %d should start with an empty node list", i)
		}
	}
}

func TestPlanDirectionsRequiresAxes(t *testing.T) {
	_, err := NewStaticAnalyzer().PlanDirections(context.Background(), &domain.SalienceProfile{}, 4, domain.ModeAssetSet)
	var revision *domain.RevisionError
	if !errors.As(err, &revision) {
		t.Fatalf("err = %v, want RevisionError", err)
	}
}
