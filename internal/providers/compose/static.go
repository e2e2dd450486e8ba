package compose

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"atelier/internal/domain"
)

// StaticComposer builds prompts deterministically from the direction
// skeleton and profile, without a model call. It backs local runs and serves
// as the fallback for the remote composer.
type StaticComposer struct{}

// NewStaticComposer constructs the deterministic composer.
func NewStaticComposer() *StaticComposer {
	return &StaticComposer{}
}

func (s *StaticComposer) Compose(ctx context.Context, pack ContextPack) (*Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pack.Profile.Axes) == 0 {
		return nil, &domain.RevisionError{Issues: []string{"salience profile has no axes"}}
	}
	if pack.Direction.PromptSkeleton == "" && pack.Direction.Label == "" {
		return nil, &domain.RevisionError{Issues: []string{"direction carries neither skeleton nor label"}}
	}

	titler := cases.Title(language.Und)
	var b strings.Builder
	skeleton := pack.Direction.PromptSkeleton
	if skeleton == "" {
		skeleton = fmt.Sprintf("%s treatment", titler.String(pack.Direction.Label))
	}
	b.WriteString(skeleton)

	for _, tag := range weightedStyleTags(pack) {
		b.WriteString(", ")
		b.WriteString(tag)
	}

	pushed := pushedAxes(pack.Direction)
	for _, axis := range pushed {
		fmt.Fprintf(&b, ", strong %s", strings.ReplaceAll(axis, "_", " "))
	}

	// Depth deepens commitment to the direction; later nodes push harder.
	if pack.Depth > 1 {
		fmt.Fprintf(&b, ", iteration %d of %d along this direction", pack.Depth, pack.MaxDepth)
	}
	if pack.Parent != nil && pack.Parent.Prompt != "" {
		fmt.Fprintf(&b, ", evolving from: %s", excerpt(pack.Parent.Prompt, 120))
	}
	for _, pinned := range pack.PinnedPrompts {
		fmt.Fprintf(&b, ", keeping qualities of: %s", excerpt(pinned, 80))
	}
	if pack.MediaType == domain.MediaVideo {
		b.WriteString(", rendered as a short continuous camera move")
	}

	negative := append([]string{}, pack.Direction.AvoidTags...)
	negative = append(negative, pack.Profile.AvoidTags...)
	negative = dedupe(negative)

	seed := promptSeed(pack)
	meta := domain.PromptMeta{
		AspectRatio: aspectForMode(pack.Mode),
		Seed:        seed,
		Strength:    clampUnit(0.45 + 0.1*float64(pack.Depth)),
		Guidance:    7.5 - 2.0*pack.Preferences.ExplorationRate,
	}
	if pack.MediaType == domain.MediaVideo {
		meta.DurationSeconds = 6
		meta.FPS = 24
	}

	explanation := fmt.Sprintf("Depth %d along %q: leaning into %s while avoiding %s.",
		pack.Depth, pack.Direction.Label, strings.Join(pushed, " and "), strings.Join(firstN(negative, 2), ", "))

	return &Package{
		Prompt:        b.String(),
		Negative:      negative,
		Meta:          meta,
		Explanation:   explanation,
		SalienceDelta: deltas(pack, pushed),
	}, nil
}

// weightedStyleTags orders direction and profile style tags by the user's
// learned affinity, highest first.
func weightedStyleTags(pack ContextPack) []string {
	tags := dedupe(append(append([]string{}, pack.Direction.StyleTags...), pack.Profile.StyleTags...))
	sort.SliceStable(tags, func(i, j int) bool {
		return pack.Preferences.StyleAffinity[tags[i]] > pack.Preferences.StyleAffinity[tags[j]]
	})
	return firstN(tags, 4)
}

func pushedAxes(dir domain.Direction) []string {
	axes := make([]string, 0, len(dir.AxisPush))
	for axis := range dir.AxisPush {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	return axes
}

// deltas describes how this node shifts the profile: pushed axes move up,
// pulled axes move down, scaled by exploration rate.
func deltas(pack ContextPack, pushed []string) []domain.SalienceDelta {
	scale := 0.05 + 0.1*pack.Preferences.ExplorationRate
	out := make([]domain.SalienceDelta, 0, 4)
	for _, axis := range pushed {
		out = append(out, domain.SalienceDelta{Axis: axis, Delta: scale})
		if len(out) == 3 {
			break
		}
	}
	pulled := make([]string, 0, len(pack.Direction.AxisPull))
	for axis := range pack.Direction.AxisPull {
		pulled = append(pulled, axis)
	}
	sort.Strings(pulled)
	for _, axis := range pulled {
		out = append(out, domain.SalienceDelta{Axis: axis, Delta: -scale})
		if len(out) == 4 {
			break
		}
	}
	if len(out) < 2 && len(pack.Profile.Axes) > 0 {
		out = append(out, domain.SalienceDelta{Axis: pack.Profile.Axes[0].Name, Delta: scale})
	}
	return out
}

func promptSeed(pack ContextPack) int64 {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%s|%d", pack.Direction.ID, pack.MediaType, pack.Depth)
	if pack.Parent != nil {
		hasher.Write([]byte(pack.Parent.ID))
	}
	sum := hasher.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
	return seed
}

func aspectForMode(mode domain.SessionMode) string {
	switch mode {
	case domain.ModeNarrativeFrames:
		return "16:9"
	case domain.ModeWorkflow:
		return "4:5"
	default:
		return "1:1"
	}
}

func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return strings.TrimSpace(text[:limit]) + "..."
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func firstN(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
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

var _ Composer = (*StaticComposer)(nil)
