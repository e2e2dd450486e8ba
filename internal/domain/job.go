package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is the ephemeral work item backing one node's production. Jobs live
// only in-process and are never persisted.
type Job struct {
	ID           string
	SessionID    string
	DirectionID  string
	NodeID       string
	ParentNodeID string
	MediaType    MediaType
	Depth        int
	Status       JobStatus
	Error        string
	CreatedAt    time.Time
}
