package engine

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"atelier/internal/domain"
	"atelier/internal/events"
)

// EnqueueResult identifies the node and job created by one enqueue call.
type EnqueueResult struct {
	NodeID string `json:"node_id"`
	JobID  string `json:"job_id"`
}

// EnqueueGeneration validates the request, appends a queued node to the
// direction, pushes a job onto the FIFO queue and returns immediately. All
// validation happens before any state mutation; once this call succeeds,
// failure is reported only through the node and the session's event channel.
func (e *Engine) EnqueueGeneration(sessionID, directionID, parentNodeID string, mediaType domain.MediaType) (*EnqueueResult, error) {
	if !domain.ValidMediaType(mediaType) {
		return nil, fmt.Errorf("%w: unknown media type %q", domain.ErrValidation, mediaType)
	}
	sess := e.store.Get(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if sess.SalienceProfile == nil || len(sess.Directions) == 0 {
		return nil, fmt.Errorf("%w: session has not been analyzed", domain.ErrValidation)
	}
	dir := sess.Direction(directionID)
	if dir == nil {
		return nil, fmt.Errorf("%w: direction %s", domain.ErrNotFound, directionID)
	}
	if parentNodeID != "" && sess.Node(parentNodeID) == nil {
		return nil, fmt.Errorf("%w: parent node %s", domain.ErrNotFound, parentNodeID)
	}

	// The store assigns the depth and enforces the chain bound under its
	// write lock, so racing enqueues cannot both slip past the limit.
	node, err := e.store.AddNode(sessionID, directionID, domain.GenerationNode{
		ID:           shortuuid.New(),
		Status:       domain.NodeQueued,
		MediaType:    mediaType,
		Model:        e.model,
		ParentNodeID: parentNodeID,
		Progress:     0,
		CreatedAt:    time.Now().UTC(),
	}, e.maxDepth)
	if err != nil {
		return nil, err
	}
	e.events.Publish(sessionID, events.NodeCreated{SessionID: sessionID, DirectionID: directionID, Node: *node})

	job := &domain.Job{
		ID:           shortuuid.New(),
		SessionID:    sessionID,
		DirectionID:  directionID,
		NodeID:       node.ID,
		ParentNodeID: parentNodeID,
		MediaType:    mediaType,
		Depth:        node.Depth,
		Status:       domain.JobQueued,
		CreatedAt:    time.Now().UTC(),
	}
	// Queue membership and the generating flip share e.mu so settleSession
	// never observes one without the other.
	e.mu.Lock()
	e.queue = append(e.queue, job)
	e.jobs[job.ID] = job
	if cur := e.store.Get(sessionID); cur != nil && cur.State != domain.StateGenerating {
		if _, err := e.store.SetState(sessionID, domain.StateGenerating); err == nil {
			e.events.Publish(sessionID, events.SessionUpdate{SessionID: sessionID, State: domain.StateGenerating})
		}
	}
	e.mu.Unlock()
	e.signal()

	e.logger.Info().
		Str("session_id", sessionID).
		Str("direction_id", directionID).
		Str("node_id", node.ID).
		Str("job_id", job.ID).
		Int("depth", node.Depth).
		Str("media_type", string(mediaType)).
		Msg("engine: generation queued")

	return &EnqueueResult{NodeID: node.ID, JobID: job.ID}, nil
}

// Job returns a copy of the ephemeral job record, or nil once the process
// has forgotten it.
func (e *Engine) Job(id string) *domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// QueueDepth reports how many jobs are waiting (not counting the one in
// flight).
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// worker is the only goroutine that advances jobs: it drains the queue one
// job at a time and then idles until the next enqueue.
func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-e.wake:
		}
		for {
			select {
			case <-e.runCtx.Done():
				return
			default:
			}
			job := e.pop()
			if job == nil {
				break
			}
			e.runJob(job)
		}
	}
}

func (e *Engine) pop() *domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	job := e.queue[0]
	e.queue = e.queue[1:]
	return job
}

func (e *Engine) runJob(job *domain.Job) {
	e.setJobStatus(job, domain.JobProcessing, "")
	e.logger.Info().
		Str("job_id", job.ID).
		Str("node_id", job.NodeID).
		Str("media_type", string(job.MediaType)).
		Msg("engine: job started")

	if err := e.process(job); err != nil {
		e.setJobStatus(job, domain.JobFailed, err.Error())
		if _, uerr := e.store.UpdateNode(job.SessionID, job.NodeID, func(n *domain.GenerationNode) {
			n.Status = domain.NodeError
			n.Error = err.Error()
		}); uerr != nil {
			e.logger.Error().Err(uerr).Str("node_id", job.NodeID).Msg("engine: record node failure")
		}
		e.events.Publish(job.SessionID, events.Error{SessionID: job.SessionID, NodeID: job.NodeID, Message: err.Error()})
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("engine: job failed")
	} else {
		e.setJobStatus(job, domain.JobCompleted, "")
		e.logger.Info().Str("job_id", job.ID).Msg("engine: job completed")
	}

	e.settleSession(job.SessionID)
}

func (e *Engine) setJobStatus(job *domain.Job, status domain.JobStatus, errMsg string) {
	e.mu.Lock()
	job.Status = status
	job.Error = errMsg
	e.mu.Unlock()
}

// settleSession moves a session back to idle once no queued or in-flight
// work references it.
func (e *Engine) settleSession(sessionID string) {
	// Hold e.mu across the scan and the flip so an enqueue racing in
	// between cannot leave a running session marked idle.
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, queued := range e.queue {
		if queued.SessionID == sessionID {
			return
		}
	}
	sess := e.store.Get(sessionID)
	if sess == nil || sess.State != domain.StateGenerating {
		return
	}
	if _, err := e.store.SetState(sessionID, domain.StateIdle); err == nil {
		e.events.Publish(sessionID, events.SessionUpdate{SessionID: sessionID, State: domain.StateIdle})
	}
}
