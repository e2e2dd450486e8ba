// Package store owns the in-memory source of truth for sessions, directions
// and generation nodes, with asynchronous write-behind persistence to one
// JSON document per session.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/infra"
)

// Store is the single shared mutable resource of the service. All mutation
// goes through its narrow mutator surface; the in-memory map is guarded by a
// mutex so concurrent request handlers never observe a write in progress.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	dirty    map[string]struct{}

	dataPath      string
	flushInterval time.Duration
	logger        infra.Logger

	loadOnce sync.Once

	done chan struct{}
	stop sync.Once
}

// New constructs a Store persisting to dataPath. Sessions are loaded lazily
// on first access; call Start to begin the periodic flush loop.
func New(dataPath string, flushInterval time.Duration, logger infra.Logger) *Store {
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &Store{
		sessions:      make(map[string]*domain.Session),
		dirty:         make(map[string]struct{}),
		dataPath:      dataPath,
		flushInterval: flushInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Create allocates a new session in state initializing.
func (s *Store) Create(mode domain.SessionMode, caption string) (*domain.Session, error) {
	if !domain.ValidMode(mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	s.ensureLoaded()

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:            uuid.NewString(),
		Mode:          mode,
		State:         domain.StateInitializing,
		Caption:       caption,
		ReferenceURLs: []string{},
		Directions:    []domain.Direction{},
		Preferences:   domain.NewPreferences(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.dirty[sess.ID] = struct{}{}
	s.mu.Unlock()

	return cloneSession(sess), nil
}

// Get returns a snapshot of the session, or nil if absent.
func (s *Store) Get(id string) *domain.Session {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return cloneSession(sess)
}

// List returns snapshots of every session, newest first.
func (s *Store) List() []*domain.Session {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes the session from memory and from durable storage. It
// returns false when the session does not exist; a missing durable artifact
// is not an error.
func (s *Store) Delete(id string) bool {
	s.ensureLoaded()
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		delete(s.dirty, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.removeDocument(id)
	return true
}

// Update applies fn to the session under the write lock, stamps UpdatedAt
// and marks the session dirty for the next flush cycle.
func (s *Store) Update(id string, fn func(*domain.Session)) (*domain.Session, error) {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UTC()
	s.dirty[id] = struct{}{}
	return cloneSession(sess), nil
}

// SetState moves the session to the given lifecycle state.
func (s *Store) SetState(id string, state domain.SessionState) (*domain.Session, error) {
	return s.Update(id, func(sess *domain.Session) {
		sess.State = state
	})
}

// SetReferences merges urls into the session's reference list, deduplicated
// in insertion order, and optionally replaces the caption. An empty merge
// result leaves the state untouched; a non-empty one advances a session
// still in initializing to references_uploaded.
func (s *Store) SetReferences(id string, urls []string, caption string) (*domain.Session, error) {
	return s.Update(id, func(sess *domain.Session) {
		seen := make(map[string]struct{}, len(sess.ReferenceURLs)+len(urls))
		merged := make([]string, 0, len(sess.ReferenceURLs)+len(urls))
		for _, u := range append(append([]string{}, sess.ReferenceURLs...), urls...) {
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			merged = append(merged, u)
		}
		sess.ReferenceURLs = merged
		if caption != "" {
			sess.Caption = caption
		}
		if len(merged) > 0 && sess.State == domain.StateInitializing {
			sess.State = domain.StateReferencesUploaded
		}
	})
}

// SetSalienceProfile replaces the profile wholesale.
func (s *Store) SetSalienceProfile(id string, profile *domain.SalienceProfile) (*domain.Session, error) {
	return s.Update(id, func(sess *domain.Session) {
		sess.SalienceProfile = profile
	})
}

// SetDirections installs the planned direction set. Membership is fixed from
// this point on; only nodes are appended within existing directions.
func (s *Store) SetDirections(id string, directions []domain.Direction) (*domain.Session, error) {
	return s.Update(id, func(sess *domain.Session) {
		sess.Directions = directions
	})
}

// UpdatePreferences applies fn to the session's preference state.
func (s *Store) UpdatePreferences(id string, fn func(*domain.Preferences)) (*domain.Session, error) {
	return s.Update(id, func(sess *domain.Session) {
		fn(&sess.Preferences)
	})
}

// GetDirection returns a snapshot of one direction.
func (s *Store) GetDirection(id, directionID string) (*domain.Direction, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	dir := sess.Direction(directionID)
	if dir == nil {
		return nil, fmt.Errorf("%w: direction %s", domain.ErrNotFound, directionID)
	}
	clone := cloneDirection(*dir)
	return &clone, nil
}

// AddNode appends node to the direction's generation chain, assigning its
// depth under the write lock. The append is rejected once the chain holds
// maxDepth nodes; a maxDepth of zero or less leaves the chain unbounded.
// Computing the depth here keeps concurrent appends from ever sharing one.
func (s *Store) AddNode(id, directionID string, node domain.GenerationNode, maxDepth int) (*domain.GenerationNode, error) {
	var appendErr error
	var added domain.GenerationNode
	_, err := s.Update(id, func(sess *domain.Session) {
		dir := sess.Direction(directionID)
		if dir == nil {
			appendErr = fmt.Errorf("%w: direction %s", domain.ErrNotFound, directionID)
			return
		}
		depth := len(dir.Nodes) + 1
		if maxDepth > 0 && depth > maxDepth {
			appendErr = fmt.Errorf("%w: direction already at maximum depth %d", domain.ErrValidation, maxDepth)
			return
		}
		node.Depth = depth
		dir.Nodes = append(dir.Nodes, node)
		added = cloneNode(node)
	})
	if err != nil {
		return nil, err
	}
	if appendErr != nil {
		return nil, appendErr
	}
	return &added, nil
}

// GetNode returns a snapshot of one node.
func (s *Store) GetNode(id, nodeID string) (*domain.GenerationNode, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	node := sess.Node(nodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	clone := cloneNode(*node)
	return &clone, nil
}

// UpdateNode applies fn to one node under the write lock and returns the
// updated snapshot.
func (s *Store) UpdateNode(id, nodeID string, fn func(*domain.GenerationNode)) (*domain.GenerationNode, error) {
	var updated *domain.GenerationNode
	_, err := s.Update(id, func(sess *domain.Session) {
		if node := sess.Node(nodeID); node != nil {
			fn(node)
			clone := cloneNode(*node)
			updated = &clone
		}
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	return updated, nil
}

// DeleteNode removes a node from its direction's chain.
func (s *Store) DeleteNode(id, nodeID string) error {
	removed := false
	_, err := s.Update(id, func(sess *domain.Session) {
		for i := range sess.Directions {
			dir := &sess.Directions[i]
			for j := range dir.Nodes {
				if dir.Nodes[j].ID == nodeID {
					dir.Nodes = append(dir.Nodes[:j], dir.Nodes[j+1:]...)
					removed = true
					return
				}
			}
		}
	})
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	return nil
}

func cloneSession(sess *domain.Session) *domain.Session {
	out := *sess
	out.ReferenceURLs = append([]string{}, sess.ReferenceURLs...)
	if sess.SalienceProfile != nil {
		profile := cloneProfile(*sess.SalienceProfile)
		out.SalienceProfile = &profile
	}
	out.Directions = make([]domain.Direction, len(sess.Directions))
	for i, dir := range sess.Directions {
		out.Directions[i] = cloneDirection(dir)
	}
	out.Preferences = clonePreferences(sess.Preferences)
	return &out
}

func cloneProfile(p domain.SalienceProfile) domain.SalienceProfile {
	p.Axes = append([]domain.SalienceAxis{}, p.Axes...)
	p.StyleTags = append([]string{}, p.StyleTags...)
	p.AvoidTags = append([]string{}, p.AvoidTags...)
	return p
}

func cloneDirection(d domain.Direction) domain.Direction {
	d.AxisPush = cloneFloatMap(d.AxisPush)
	d.AxisPull = cloneFloatMap(d.AxisPull)
	d.StyleTags = append([]string{}, d.StyleTags...)
	d.AvoidTags = append([]string{}, d.AvoidTags...)
	nodes := make([]domain.GenerationNode, len(d.Nodes))
	for i, n := range d.Nodes {
		nodes[i] = cloneNode(n)
	}
	d.Nodes = nodes
	return d
}

func cloneNode(n domain.GenerationNode) domain.GenerationNode {
	n.Negative = append([]string{}, n.Negative...)
	n.SalienceDelta = append([]domain.SalienceDelta{}, n.SalienceDelta...)
	if n.PromptMeta != nil {
		meta := *n.PromptMeta
		n.PromptMeta = &meta
	}
	if n.CompletedAt != nil {
		at := *n.CompletedAt
		n.CompletedAt = &at
	}
	return n
}

func clonePreferences(p domain.Preferences) domain.Preferences {
	p.AxisWeights = cloneFloatMap(p.AxisWeights)
	p.StyleAffinity = cloneFloatMap(p.StyleAffinity)
	return p
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
