package domain

const (
	// MaxDirectionLabelLen caps direction labels.
	MaxDirectionLabelLen = 28
	// MaxDirectionIntentLen caps direction intents.
	MaxDirectionIntentLen = 120
)

// Direction is one named creative vector branching from a salience profile.
// Its Index is assigned at planning time and stable thereafter; the set of
// directions on a session never changes membership after planning.
type Direction struct {
	ID             string             `json:"id"`
	Index          int                `json:"index"`
	Label          string             `json:"label"`
	Intent         string             `json:"intent"`
	AxisPush       map[string]float64 `json:"axis_push"`
	AxisPull       map[string]float64 `json:"axis_pull"`
	StyleTags      []string           `json:"style_tags"`
	AvoidTags      []string           `json:"avoid_tags"`
	PromptSkeleton string             `json:"prompt_skeleton"`
	Nodes          []GenerationNode   `json:"nodes"`
}

// LastNode returns the most recent node on the direction, or nil.
func (d *Direction) LastNode() *GenerationNode {
	if len(d.Nodes) == 0 {
		return nil
	}
	return &d.Nodes[len(d.Nodes)-1]
}
