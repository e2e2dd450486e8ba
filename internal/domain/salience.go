package domain

// SalienceAxis is one named style signal extracted from reference material.
// Weight is the axis prominence; Value is where the reference sits on the
// axis. Both live in [0,1].
type SalienceAxis struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// SalienceProfile is the compact description of reference material produced
// by analysis. Immutable once attached to a session; re-analysis replaces it
// wholesale.
type SalienceProfile struct {
	Axes      []SalienceAxis `json:"axes"`
	StyleTags []string       `json:"style_tags"`
	AvoidTags []string       `json:"avoid_tags"`
	Notes     string         `json:"notes,omitempty"`
}

// Axis returns the named axis, or nil.
func (p *SalienceProfile) Axis(name string) *SalienceAxis {
	for i := range p.Axes {
		if p.Axes[i].Name == name {
			return &p.Axes[i]
		}
	}
	return nil
}

// SalienceDelta is one small signed adjustment a generated node applies to a
// profile axis.
type SalienceDelta struct {
	Axis  string  `json:"axis"`
	Delta float64 `json:"delta"`
}
