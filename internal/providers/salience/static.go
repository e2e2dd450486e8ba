package salience

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"atelier/internal/domain"
)

// StaticAnalyzer derives a deterministic profile from the reference URLs
// alone. It backs local and CI runs and serves as the fallback when the
// remote analyzer is unreachable.
type StaticAnalyzer struct{}

// NewStaticAnalyzer constructs the deterministic analyzer.
func NewStaticAnalyzer() *StaticAnalyzer {
	return &StaticAnalyzer{}
}

var axisPools = map[domain.SessionMode][]string{
	domain.ModeCharacterDesign: {"silhouette", "line_weight", "palette_warmth", "costume_detail", "anatomy_stylization", "expression_range", "material_rendering", "lighting_drama"},
	domain.ModeAssetSet:        {"shape_language", "palette_warmth", "surface_wear", "ornamentation", "readability", "material_rendering", "scale_consistency", "lighting_drama"},
	domain.ModeNarrativeFrames: {"composition_depth", "lighting_drama", "palette_warmth", "figure_staging", "camera_distance", "atmosphere_density", "line_weight", "color_contrast"},
	domain.ModeIterativeRefine: {"fidelity", "palette_warmth", "texture_detail", "lighting_drama", "composition_depth", "edge_control", "color_contrast", "stylization"},
	domain.ModeWorkflow:        {"clarity", "hierarchy", "palette_warmth", "iconography", "density", "annotation_style", "line_weight", "color_contrast"},
}

var stylePool = []string{"ink wash", "cel shaded", "painterly", "graphic", "weathered", "luminous", "muted", "high contrast", "soft focus", "geometric"}

var avoidPool = []string{"text artifacts", "watermark", "oversaturation", "flat lighting", "clutter"}

var labelPool = []string{"Bolder Silhouette", "Muted Palette", "Heavier Line", "Softer Light", "Denser Texture", "Cleaner Shapes", "Warmer Tones", "Deeper Shadow"}

var intentPool = []string{
	"Push the dominant axis harder while holding everything else steady",
	"Pull back saturation and let shape language carry the read",
	"Trade rendering detail for stronger graphic readability",
	"Lean into atmosphere and let edges dissolve",
	"Tighten construction and sharpen every silhouette",
	"Warm the palette and soften transitions between planes",
	"Exaggerate scale contrast for a more dramatic read",
	"Strip ornament down to the minimum that still reads",
}

// AnalyzeSalience derives 6-10 axes with weights and values seeded by the
// reference set, so the same references always produce the same profile.
func (s *StaticAnalyzer) AnalyzeSalience(ctx context.Context, req Request) (*domain.SalienceProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.ReferenceURLs) == 0 {
		return nil, &domain.RevisionError{Issues: []string{"at least one reference is required"}}
	}

	digest := referenceDigest(req.ReferenceURLs, req.Caption, string(req.Mode))
	pool := axisPools[req.Mode]
	if pool == nil {
		pool = axisPools[domain.ModeCharacterDesign]
	}

	axisCount := 6 + int(digest[0])%3 // 6..8 of the pool's 8
	if axisCount > len(pool) {
		axisCount = len(pool)
	}
	axes := make([]domain.SalienceAxis, 0, axisCount)
	for i := 0; i < axisCount; i++ {
		weight := unitFromByte(digest[(i*2+1)%len(digest)])
		if bias, ok := req.PreferenceWeights[pool[i]]; ok {
			weight = clampUnit(0.5*weight + 0.5*bias)
		}
		axes = append(axes, domain.SalienceAxis{
			Name:   pool[i],
			Weight: weight,
			Value:  unitFromByte(digest[(i*2+2)%len(digest)]),
		})
	}
	sort.Slice(axes, func(i, j int) bool { return axes[i].Weight > axes[j].Weight })

	styleTags := pickTags(stylePool, digest, 3, 3)
	avoidTags := pickTags(avoidPool, digest, 2, 11)

	return &domain.SalienceProfile{
		Axes:      axes,
		StyleTags: styleTags,
		AvoidTags: avoidTags,
		Notes:     fmt.Sprintf("Dominant signal is %s; references read as %s.", axes[0].Name, strings.Join(styleTags, ", ")),
	}, nil
}

// PlanDirections branches the profile into n named vectors. Membership is
// final; the caller installs the set exactly once.
func (s *StaticAnalyzer) PlanDirections(ctx context.Context, profile *domain.SalienceProfile, n int, mode domain.SessionMode) ([]domain.Direction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if profile == nil || len(profile.Axes) == 0 {
		return nil, &domain.RevisionError{Issues: []string{"profile has no axes to branch from"}}
	}
	if n < 1 {
		n = 1
	}

	directions := make([]domain.Direction, 0, n)
	for i := 0; i < n; i++ {
		push := profile.Axes[i%len(profile.Axes)]
		pull := profile.Axes[(i+1)%len(profile.Axes)]
		label := labelPool[i%len(labelPool)]
		if len(label) > domain.MaxDirectionLabelLen {
			label = label[:domain.MaxDirectionLabelLen]
		}
		intent := intentPool[i%len(intentPool)]
		if len(intent) > domain.MaxDirectionIntentLen {
			intent = intent[:domain.MaxDirectionIntentLen]
		}
		styleTag := ""
		if len(profile.StyleTags) > 0 {
			styleTag = profile.StyleTags[i%len(profile.StyleTags)]
		}
		directions = append(directions, domain.Direction{
			ID:        shortuuid.New(),
			Index:     i,
			Label:     label,
			Intent:    intent,
			AxisPush:  map[string]float64{push.Name: clampUnit(push.Weight + 0.2)},
			AxisPull:  map[string]float64{pull.Name: clampUnit(pull.Weight * 0.5)},
			StyleTags: appendNonEmpty(nil, styleTag),
			AvoidTags: append([]string{}, profile.AvoidTags...),
			PromptSkeleton: fmt.Sprintf("%s rendering for %s, emphasizing %s, de-emphasizing %s",
				nonEmpty(styleTag, "reference-faithful"), modePhrase(mode), push.Name, pull.Name),
			Nodes: []domain.GenerationNode{},
		})
	}
	return directions, nil
}

func modePhrase(mode domain.SessionMode) string {
	switch mode {
	case domain.ModeCharacterDesign:
		return "a character design sheet"
	case domain.ModeAssetSet:
		return "a matched prop and asset set"
	case domain.ModeNarrativeFrames:
		return "a sequence of narrative frames"
	case domain.ModeIterativeRefine:
		return "an iterative refinement pass"
	case domain.ModeWorkflow:
		return "a workflow diagram treatment"
	default:
		return "a creative exploration"
	}
}

func referenceDigest(urls []string, caption, mode string) []byte {
	hasher := sha256.New()
	for _, u := range urls {
		hasher.Write([]byte(u))
		hasher.Write([]byte{'|'})
	}
	hasher.Write([]byte(caption))
	hasher.Write([]byte(mode))
	return hasher.Sum(nil)
}

func pickTags(pool []string, digest []byte, count, offset int) []string {
	out := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 0; len(out) < count && i < len(pool)*2; i++ {
		tag := pool[int(digest[(offset+i)%len(digest)])%len(pool)]
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func unitFromByte(b byte) float64 {
	return float64(b) / 255.0
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func appendNonEmpty(tags []string, tag string) []string {
	if tag == "" {
		return tags
	}
	return append(tags, tag)
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var _ Analyzer = (*StaticAnalyzer)(nil)
