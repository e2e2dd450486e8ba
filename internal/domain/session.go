package domain

import "time"

// SessionMode enumerates the creative domains a session can explore.
type SessionMode string

const (
	ModeCharacterDesign SessionMode = "character_design"
	ModeAssetSet        SessionMode = "asset_set"
	ModeNarrativeFrames SessionMode = "narrative_frames"
	ModeIterativeRefine SessionMode = "iterative_refine"
	ModeWorkflow        SessionMode = "workflow"
)

// ValidMode reports whether mode is a member of the SessionMode enumeration.
func ValidMode(mode SessionMode) bool {
	switch mode {
	case ModeCharacterDesign, ModeAssetSet, ModeNarrativeFrames, ModeIterativeRefine, ModeWorkflow:
		return true
	default:
		return false
	}
}

// SessionState enumerates session lifecycle states.
type SessionState string

const (
	StateInitializing       SessionState = "initializing"
	StateReferencesUploaded SessionState = "references_uploaded"
	StateAnalyzing          SessionState = "analyzing"
	StateDirectionsPlanned  SessionState = "directions_planned"
	StateGenerating         SessionState = "generating"
	StateIdle               SessionState = "idle"
	StateError              SessionState = "error"
)

// Preferences carries the learned weighting a user accumulates over a
// session. Weights and affinities live in [0,1]; the pipeline reads them but
// only user actions mutate them.
type Preferences struct {
	AxisWeights     map[string]float64 `json:"axis_weights"`
	ExplorationRate float64            `json:"exploration_rate"`
	StyleAffinity   map[string]float64 `json:"style_affinity"`
}

// NewPreferences returns a zeroed preference state with allocated maps.
func NewPreferences() Preferences {
	return Preferences{
		AxisWeights:     map[string]float64{},
		ExplorationRate: 0.3,
		StyleAffinity:   map[string]float64{},
	}
}

// Session is the root aggregate for one creative exploration.
type Session struct {
	ID              string           `json:"id"`
	Mode            SessionMode      `json:"mode"`
	State           SessionState     `json:"state"`
	ReferenceURLs   []string         `json:"reference_urls"`
	Caption         string           `json:"caption,omitempty"`
	SalienceProfile *SalienceProfile `json:"salience_profile,omitempty"`
	Directions      []Direction      `json:"directions"`
	Preferences     Preferences      `json:"preferences"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Direction returns the direction with the given id, or nil.
func (s *Session) Direction(id string) *Direction {
	for i := range s.Directions {
		if s.Directions[i].ID == id {
			return &s.Directions[i]
		}
	}
	return nil
}

// Node returns the node with the given id from any direction, or nil.
func (s *Session) Node(id string) *GenerationNode {
	for i := range s.Directions {
		for j := range s.Directions[i].Nodes {
			if s.Directions[i].Nodes[j].ID == id {
				return &s.Directions[i].Nodes[j]
			}
		}
	}
	return nil
}
