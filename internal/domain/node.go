package domain

import "time"

// MediaType enumerates producible artifact kinds.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// ValidMediaType reports whether mt is a known media type.
func ValidMediaType(mt MediaType) bool {
	return mt == MediaImage || mt == MediaVideo
}

// NodeStatus enumerates generation node lifecycle states.
type NodeStatus string

const (
	NodePending    NodeStatus = "pending"
	NodeQueued     NodeStatus = "queued"
	NodeGenerating NodeStatus = "generating"
	NodeComplete   NodeStatus = "complete"
	NodeError      NodeStatus = "error"
)

// DefaultMaxChainDepth bounds how long a generation chain along a single
// direction may grow.
const DefaultMaxChainDepth = 5

// PromptMeta carries the generation parameters attached once composition
// completes. Duration and FPS apply to video only.
type PromptMeta struct {
	AspectRatio     string  `json:"aspect_ratio"`
	Seed            int64   `json:"seed"`
	Strength        float64 `json:"strength"`
	Guidance        float64 `json:"guidance"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
	FPS             int     `json:"fps,omitempty"`
}

// GenerationNode is one produced or in-flight artifact along a direction.
// Depth equals the count of prior nodes in the same direction plus one and
// never exceeds the configured maximum.
type GenerationNode struct {
	ID            string          `json:"id"`
	Depth         int             `json:"depth"`
	Status        NodeStatus      `json:"status"`
	MediaType     MediaType       `json:"media_type"`
	Model         string          `json:"model,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	PromptMeta    *PromptMeta     `json:"prompt_meta,omitempty"`
	Negative      []string        `json:"negative,omitempty"`
	OutputURL     string          `json:"output_url,omitempty"`
	ThumbnailURL  string          `json:"thumbnail_url,omitempty"`
	Progress      int             `json:"progress"`
	ParentNodeID  string          `json:"parent_node_id,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
	SalienceDelta []SalienceDelta `json:"salience_delta,omitempty"`
	IsPinned      bool            `json:"is_pinned"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
