package events

import (
	"time"

	"atelier/internal/domain"
)

// Type tags the closed set of event kinds carried on a session channel.
type Type string

const (
	TypeSessionUpdate      Type = "session_update"
	TypeSalienceExtracted  Type = "salience_extracted"
	TypeDirectionsPlanned  Type = "directions_planned"
	TypeNodeCreated        Type = "node_created"
	TypeGenerationProgress Type = "generation_progress"
	TypeGenerationComplete Type = "generation_complete"
	TypeError              Type = "error"
	TypeHeartbeat          Type = "heartbeat"
)

// Event is the closed sum of everything published through the broadcaster.
// Each kind carries its own typed payload; consumers dispatch by exhaustive
// type switch instead of inspecting dynamic fields.
type Event interface {
	EventType() Type
}

// SessionUpdate announces a session state change.
type SessionUpdate struct {
	SessionID string              `json:"session_id"`
	State     domain.SessionState `json:"state"`
}

// SalienceExtracted announces a completed analysis.
type SalienceExtracted struct {
	SessionID string                  `json:"session_id"`
	Profile   *domain.SalienceProfile `json:"profile"`
}

// DirectionsPlanned announces the fixed direction set for a session.
type DirectionsPlanned struct {
	SessionID  string             `json:"session_id"`
	Directions []domain.Direction `json:"directions"`
}

// NodeCreated announces a freshly enqueued generation node.
type NodeCreated struct {
	SessionID   string                `json:"session_id"`
	DirectionID string                `json:"direction_id"`
	Node        domain.GenerationNode `json:"node"`
}

// GenerationProgress reports staged pipeline progress for one node.
type GenerationProgress struct {
	SessionID   string `json:"session_id"`
	DirectionID string `json:"direction_id"`
	NodeID      string `json:"node_id"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
}

// GenerationComplete announces a finished artifact.
type GenerationComplete struct {
	SessionID    string `json:"session_id"`
	DirectionID  string `json:"direction_id"`
	NodeID       string `json:"node_id"`
	OutputURL    string `json:"output_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Explanation  string `json:"explanation,omitempty"`
}

// Error reports a failed pipeline stage or session-level failure. NodeID is
// empty for session-scoped errors.
type Error struct {
	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id,omitempty"`
	Message   string `json:"message"`
}

// Heartbeat keeps idle stream connections from being mistaken for dead ones.
type Heartbeat struct {
	At time.Time `json:"at"`
}

func (SessionUpdate) EventType() Type      { return TypeSessionUpdate }
func (SalienceExtracted) EventType() Type  { return TypeSalienceExtracted }
func (DirectionsPlanned) EventType() Type  { return TypeDirectionsPlanned }
func (NodeCreated) EventType() Type        { return TypeNodeCreated }
func (GenerationProgress) EventType() Type { return TypeGenerationProgress }
func (GenerationComplete) EventType() Type { return TypeGenerationComplete }
func (Error) EventType() Type              { return TypeError }
func (Heartbeat) EventType() Type          { return TypeHeartbeat }
