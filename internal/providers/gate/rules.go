package gate

import (
	"context"
	"fmt"
	"strings"

	"atelier/internal/providers/compose"
)

const maxPromptLen = 1800

// RuleValidator is a deterministic gate. It rejects empty or degenerate
// prompts, scrubs terms the package itself marks as negative, and trims
// prompts that exceed the production limit, reporting every adjustment as an
// issue on the approved verdict.
type RuleValidator struct{}

// NewRuleValidator constructs the deterministic gate.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

func (v *RuleValidator) Validate(ctx context.Context, pkg *compose.Package) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(pkg.Prompt)
	if prompt == "" {
		return &Verdict{Approved: false, Issues: []string{"prompt is empty"}}, nil
	}
	if len(prompt) < 8 {
		return &Verdict{Approved: false, Issues: []string{"prompt too short to produce a meaningful result"}}, nil
	}

	var issues []string
	revised := prompt

	// A negative term leaking into the positive prompt confuses producers;
	// scrub it and note the revision.
	for _, term := range pkg.Negative {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if containsFold(revised, term) {
			revised = removeFold(revised, term)
			issues = append(issues, fmt.Sprintf("removed negative term %q from prompt", term))
		}
	}

	if len(revised) > maxPromptLen {
		revised = strings.TrimSpace(revised[:maxPromptLen])
		issues = append(issues, fmt.Sprintf("prompt truncated to %d characters", maxPromptLen))
	}

	revised = collapseSpaces(revised)
	if revised == "" {
		return &Verdict{Approved: false, Issues: append(issues, "nothing left after scrubbing negative terms")}, nil
	}

	if revised == prompt {
		return &Verdict{Approved: true, Package: pkg}, nil
	}

	out := *pkg
	out.Prompt = revised
	return &Verdict{Approved: true, Package: &out, Issues: issues}, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func removeFold(haystack, needle string) string {
	lower := strings.ToLower(haystack)
	target := strings.ToLower(needle)
	for {
		idx := strings.Index(lower, target)
		if idx < 0 {
			return haystack
		}
		haystack = haystack[:idx] + haystack[idx+len(needle):]
		lower = lower[:idx] + lower[idx+len(target):]
	}
}

func collapseSpaces(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " ,", ",")
	s = strings.ReplaceAll(s, ",,", ",")
	return strings.Trim(s, " ,")
}

var _ Validator = (*RuleValidator)(nil)
