// Package engine owns generation orchestration: the session control surface,
// the single-flight job queue, and the multi-stage pipeline that turns an
// enqueued request into a stored media asset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/infra"
	"atelier/internal/providers/compose"
	"atelier/internal/providers/gate"
	"atelier/internal/providers/image"
	"atelier/internal/providers/salience"
	"atelier/internal/providers/video"
	"atelier/internal/storage"
	"atelier/internal/store"
)

// Options wires an Engine's collaborators and tuning knobs.
type Options struct {
	Store    *store.Store
	Events   *events.Broadcaster
	Assets   *storage.FileStore
	Analyzer salience.Analyzer
	Composer compose.Composer
	Gate     gate.Validator
	Images   image.Generator
	Videos   video.Generator
	Logger   infra.Logger

	// AssetBaseURL prefixes storage keys to form public output URLs.
	AssetBaseURL string
	// Model is recorded on nodes as the targeted production capability.
	Model string

	MaxDepth             int
	DirectionCount       int
	ProgressTick         time.Duration
	VideoPollInterval    time.Duration
	VideoPollMaxAttempts int
}

// Engine is the explicitly constructed orchestration service. One process
// owns one Engine; a single worker goroutine drains its queue so at most one
// generation job runs at a time.
type Engine struct {
	store    *store.Store
	events   *events.Broadcaster
	assets   *storage.FileStore
	analyzer salience.Analyzer
	composer compose.Composer
	gate     gate.Validator
	images   image.Generator
	videos   video.Generator
	logger   infra.Logger

	assetBaseURL string
	model        string

	maxDepth     int
	dirCount     int
	progressTick time.Duration
	pollInterval time.Duration
	pollMax      int

	mu    sync.Mutex
	queue []*domain.Job
	jobs  map[string]*domain.Job
	wake  chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. Call Start before enqueueing work.
func New(opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = domain.DefaultMaxChainDepth
	}
	if opts.DirectionCount <= 0 {
		opts.DirectionCount = 6
	}
	if opts.ProgressTick <= 0 {
		opts.ProgressTick = 800 * time.Millisecond
	}
	if opts.VideoPollInterval <= 0 {
		opts.VideoPollInterval = 5 * time.Second
	}
	if opts.VideoPollMaxAttempts <= 0 {
		opts.VideoPollMaxAttempts = 60
	}
	return &Engine{
		store:        opts.Store,
		events:       opts.Events,
		assets:       opts.Assets,
		analyzer:     opts.Analyzer,
		composer:     opts.Composer,
		gate:         opts.Gate,
		images:       opts.Images,
		videos:       opts.Videos,
		logger:       opts.Logger,
		assetBaseURL: opts.AssetBaseURL,
		model:        opts.Model,
		maxDepth:     opts.MaxDepth,
		dirCount:     opts.DirectionCount,
		progressTick: opts.ProgressTick,
		pollInterval: opts.VideoPollInterval,
		pollMax:      opts.VideoPollMaxAttempts,
		jobs:         make(map[string]*domain.Job),
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker loop. The engine stops when ctx is cancelled or
// Shutdown is called.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.worker()
	e.logger.Info().Msg("engine: started")
}

// Shutdown stops the worker loop and waits for an in-flight job to finish
// its current stage boundary.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info().Msg("engine: stopped")
}

// MaxDepth exposes the configured chain depth bound.
func (e *Engine) MaxDepth() int {
	return e.maxDepth
}

// CreateSession allocates a new session.
func (e *Engine) CreateSession(mode domain.SessionMode, caption string) (*domain.Session, error) {
	return e.store.Create(mode, caption)
}

// GetSession returns a session snapshot or a NotFound error.
func (e *Engine) GetSession(id string) (*domain.Session, error) {
	sess := e.store.Get(id)
	if sess == nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return sess, nil
}

// ListSessions returns snapshots of every session, newest first.
func (e *Engine) ListSessions() []*domain.Session {
	return e.store.List()
}

// DeleteSession removes the session, its durable document, its produced
// assets and its broadcast channel group.
func (e *Engine) DeleteSession(id string) bool {
	if !e.store.Delete(id) {
		return false
	}
	e.events.DropSession(id)
	if err := e.assets.RemovePrefix("generated/" + id); err != nil {
		e.logger.Warn().Err(err).Str("session_id", id).Msg("engine: remove session assets failed")
	}
	return true
}

// SetReferences merges reference URLs into the session and publishes the
// resulting state.
func (e *Engine) SetReferences(id string, urls []string, caption string) (*domain.Session, error) {
	sess, err := e.store.SetReferences(id, urls, caption)
	if err != nil {
		return nil, err
	}
	e.events.Publish(id, events.SessionUpdate{SessionID: id, State: sess.State})
	return sess, nil
}

// GetNode returns a node snapshot.
func (e *Engine) GetNode(sessionID, nodeID string) (*domain.GenerationNode, error) {
	return e.store.GetNode(sessionID, nodeID)
}

// SetNodePinned flips the user-owned pin flag; the pipeline never clears it.
func (e *Engine) SetNodePinned(sessionID, nodeID string, pinned bool) (*domain.GenerationNode, error) {
	return e.store.UpdateNode(sessionID, nodeID, func(n *domain.GenerationNode) {
		n.IsPinned = pinned
	})
}

// PreferenceUpdate is a partial preference mutation; nil fields are left
// untouched.
type PreferenceUpdate struct {
	AxisWeights     map[string]float64
	ExplorationRate *float64
	StyleAffinity   map[string]float64
}

// UpdatePreferences merges upd into the session's learned weighting, clamped
// to [0,1].
func (e *Engine) UpdatePreferences(id string, upd PreferenceUpdate) (*domain.Session, error) {
	sess, err := e.store.UpdatePreferences(id, func(p *domain.Preferences) {
		if p.AxisWeights == nil {
			p.AxisWeights = map[string]float64{}
		}
		if p.StyleAffinity == nil {
			p.StyleAffinity = map[string]float64{}
		}
		for axis, w := range upd.AxisWeights {
			p.AxisWeights[axis] = clampUnit(w)
		}
		if upd.ExplorationRate != nil {
			p.ExplorationRate = clampUnit(*upd.ExplorationRate)
		}
		for tag, v := range upd.StyleAffinity {
			p.StyleAffinity[tag] = clampUnit(v)
		}
	})
	if err != nil {
		return nil, err
	}
	e.events.Publish(id, events.SessionUpdate{SessionID: id, State: sess.State})
	return sess, nil
}

// Analyze derives the salience profile and plans the direction set. Without
// force it is idempotent on an analyzed session; a session in the error
// state recovers only through force.
func (e *Engine) Analyze(ctx context.Context, id string, force bool) (*domain.Session, error) {
	sess, err := e.GetSession(id)
	if err != nil {
		return nil, err
	}
	if !force {
		if sess.State == domain.StateError {
			return nil, fmt.Errorf("%w: session is in error state, re-run analysis with force", domain.ErrValidation)
		}
		if sess.SalienceProfile != nil && len(sess.Directions) > 0 {
			return sess, nil
		}
	}
	if len(sess.ReferenceURLs) == 0 {
		return nil, fmt.Errorf("%w: session has no references to analyze", domain.ErrValidation)
	}

	if _, err := e.store.SetState(id, domain.StateAnalyzing); err != nil {
		return nil, err
	}
	e.events.Publish(id, events.SessionUpdate{SessionID: id, State: domain.StateAnalyzing})

	profile, err := e.analyzer.AnalyzeSalience(ctx, salience.Request{
		ReferenceURLs:     sess.ReferenceURLs,
		Caption:           sess.Caption,
		Mode:              sess.Mode,
		PreferenceWeights: sess.Preferences.AxisWeights,
	})
	if err != nil {
		return nil, e.failAnalysis(id, fmt.Errorf("analyze salience: %w", err))
	}

	n := clampInt(e.dirCount, 3, 8)
	directions, err := e.analyzer.PlanDirections(ctx, profile, n, sess.Mode)
	if err != nil {
		return nil, e.failAnalysis(id, fmt.Errorf("plan directions: %w", err))
	}

	if _, err := e.store.SetSalienceProfile(id, profile); err != nil {
		return nil, err
	}
	if _, err := e.store.SetDirections(id, directions); err != nil {
		return nil, err
	}
	sess, err = e.store.SetState(id, domain.StateDirectionsPlanned)
	if err != nil {
		return nil, err
	}

	e.events.Publish(id, events.SalienceExtracted{SessionID: id, Profile: profile})
	e.events.Publish(id, events.DirectionsPlanned{SessionID: id, Directions: sess.Directions})
	e.events.Publish(id, events.SessionUpdate{SessionID: id, State: domain.StateDirectionsPlanned})

	e.logger.Info().
		Str("session_id", id).
		Int("axes", len(profile.Axes)).
		Int("directions", len(directions)).
		Msg("engine: analysis complete")
	return sess, nil
}

func (e *Engine) failAnalysis(id string, cause error) error {
	if _, err := e.store.SetState(id, domain.StateError); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error().Err(err).Str("session_id", id).Msg("engine: record analysis failure")
	}
	e.events.Publish(id, events.Error{SessionID: id, Message: cause.Error()})
	e.events.Publish(id, events.SessionUpdate{SessionID: id, State: domain.StateError})
	e.logger.Warn().Err(cause).Str("session_id", id).Msg("engine: analysis failed")
	return cause
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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
