package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/infra"
	"atelier/internal/providers/compose"
	"atelier/internal/providers/gate"
	imgprov "atelier/internal/providers/image"
	"atelier/internal/providers/salience"
	"atelier/internal/providers/video"
	"atelier/internal/storage"
	"atelier/internal/store"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

type fakeImages struct {
	data     []byte
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	err      error
}

func (f *fakeImages) Generate(ctx context.Context, req imgprov.GenerateRequest) (*imgprov.Asset, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &imgprov.Asset{Data: f.data, Format: "image/png"}, nil
}

type fakeVideos struct {
	data []byte
}

func (f *fakeVideos) Submit(ctx context.Context, req video.SubmitRequest) (video.Job, error) {
	return video.Job{}, nil
}

func (f *fakeVideos) Poll(ctx context.Context, job video.Job) (*video.PollResult, error) {
	return &video.PollResult{Done: true, Asset: &video.Asset{Data: f.data, Format: "video/mp4"}}, nil
}

type failingComposer struct {
	err error
}

func (f *failingComposer) Compose(ctx context.Context, pack compose.ContextPack) (*compose.Package, error) {
	return nil, f.err
}

type testEnv struct {
	engine *Engine
	events *events.Broadcaster
	images *fakeImages
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	logger := infra.NopLogger()
	st := store.New(t.TempDir(), time.Hour, logger)
	broadcaster := events.NewBroadcaster(logger)
	assets, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	images := &fakeImages{data: testPNG(t)}
	opts := Options{
		Store:                st,
		Events:               broadcaster,
		Assets:               assets,
		Analyzer:             salience.NewStaticAnalyzer(),
		Composer:             compose.NewStaticComposer(),
		Gate:                 gate.NewRuleValidator(),
		Images:               images,
		Videos:               &fakeVideos{data: []byte("not-a-real-mp4")},
		Logger:               logger,
		AssetBaseURL:         "http://localhost:8080/static",
		Model:                "test-model",
		ProgressTick:         5 * time.Millisecond,
		VideoPollInterval:    5 * time.Millisecond,
		VideoPollMaxAttempts: 10,
	}
	if mutate != nil {
		mutate(&opts)
	}
	eng := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		eng.Shutdown()
		cancel()
	})
	return &testEnv{engine: eng, events: broadcaster, images: images}
}

func analyzedSession(t *testing.T, env *testEnv) *domain.Session {
	t.Helper()
	sess, err := env.engine.CreateSession(domain.ModeCharacterDesign, "steampunk courier")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := env.engine.SetReferences(sess.ID, []string{"https://example.com/ref1.png", "https://example.com/ref2.png"}, ""); err != nil {
		t.Fatalf("set references: %v", err)
	}
	sess, err = env.engine.Analyze(context.Background(), sess.ID, false)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sess.SalienceProfile == nil || len(sess.Directions) == 0 {
		t.Fatalf("analyze left session incomplete: profile=%v directions=%d", sess.SalienceProfile, len(sess.Directions))
	}
	return sess
}

func waitForNode(t *testing.T, env *testEnv, sessionID, nodeID string, want domain.NodeStatus) *domain.GenerationNode {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		node, err := env.engine.GetNode(sessionID, nodeID)
		if err != nil {
			t.Fatalf("get node: %v", err)
		}
		if node.Status == want {
			return node
		}
		if node.Status == domain.NodeError && want != domain.NodeError {
			t.Fatalf("node failed: %s", node.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node %s never reached status %q", nodeID, want)
	return nil
}

func TestImageGenerationLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := analyzedSession(t, env)
	dir := sess.Directions[0]

	res, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.NodeID == "" || res.JobID == "" {
		t.Fatalf("enqueue returned empty ids: %+v", res)
	}

	node := waitForNode(t, env, sess.ID, res.NodeID, domain.NodeComplete)
	if node.Progress != 100 {
		t.Fatalf("progress = %d, want 100", node.Progress)
	}
	if node.OutputURL == "" || !strings.HasPrefix(node.OutputURL, "http://localhost:8080/static/generated/") {
		t.Fatalf("unexpected output url %q", node.OutputURL)
	}
	if node.ThumbnailURL == "" {
		t.Fatalf("expected thumbnail url for image node")
	}
	if node.Prompt == "" || node.PromptMeta == nil {
		t.Fatalf("expected composed prompt on node, got prompt=%q meta=%v", node.Prompt, node.PromptMeta)
	}
	if node.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.engine.GetSession(sess.ID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if got.State == domain.StateIdle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session state = %q, want idle", got.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestVideoGenerationLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := analyzedSession(t, env)
	dir := sess.Directions[0]

	res, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, "", domain.MediaVideo)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	node := waitForNode(t, env, sess.ID, res.NodeID, domain.NodeComplete)
	if !strings.HasSuffix(node.OutputURL, ".mp4") {
		t.Fatalf("output url %q, want .mp4 suffix", node.OutputURL)
	}
	if node.ThumbnailURL != "" {
		t.Fatalf("video nodes should not carry a thumbnail, got %q", node.ThumbnailURL)
	}
}

func TestEnqueueRequiresAnalysis(t *testing.T) {
	env := newTestEnv(t, nil)
	sess, err := env.engine.CreateSession(domain.ModeAssetSet, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err = env.engine.EnqueueGeneration(sess.ID, "missing", "", domain.MediaImage)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestEnqueueRejectsBeyondMaxDepth(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxDepth = 1 })
	sess := analyzedSession(t, env)
	dir := sess.Directions[0]

	res, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	waitForNode(t, env, sess.ID, res.NodeID, domain.NodeComplete)

	_, err = env.engine.EnqueueGeneration(sess.ID, dir.ID, res.NodeID, domain.MediaImage)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	got, err := env.engine.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if n := len(got.Direction(dir.ID).Nodes); n != 1 {
		t.Fatalf("rejected enqueue must not create a node, have %d", n)
	}
}

func TestConcurrentEnqueuesRespectDepthBound(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxDepth = 2 })
	sess := analyzedSession(t, env)
	dir := sess.Directions[0]

	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan *EnqueueResult, attempts)
	failures := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, "", domain.MediaImage)
			if err != nil {
				failures <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(failures)

	for err := range failures {
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}
	accepted := 0
	for res := range results {
		accepted++
		waitForNode(t, env, sess.ID, res.NodeID, domain.NodeComplete)
	}
	if accepted != 2 {
		t.Fatalf("accepted %d enqueues, want 2", accepted)
	}

	got, err := env.engine.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	nodes := got.Direction(dir.ID).Nodes
	if len(nodes) != 2 {
		t.Fatalf("chain holds %d nodes, want 2", len(nodes))
	}
	for i, n := range nodes {
		if n.Depth != i+1 {
			t.Fatalf("node %d depth = %d, want %d", i, n.Depth, i+1)
		}
	}
}

// nodeEvents drains sub until a terminal event for nodeID arrives, returning
// the node-scoped events in delivery order.
func nodeEvents(t *testing.T, sub *events.Subscriber, nodeID string) []events.Event {
	t.Helper()
	var seen []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed before node %s finished", nodeID)
			}
			switch e := evt.(type) {
			case events.NodeCreated:
				if e.Node.ID == nodeID {
					seen = append(seen, evt)
				}
			case events.GenerationProgress:
				if e.NodeID == nodeID {
					seen = append(seen, evt)
				}
			case events.GenerationComplete:
				if e.NodeID == nodeID {
					return append(seen, evt)
				}
			case events.Error:
				if e.NodeID == nodeID {
					return append(seen, evt)
				}
			}
		case <-deadline:
			t.Fatalf("no terminal event for node %s", nodeID)
		}
	}
}

func TestNodeEventOrdering(t *testing.T) {
	env := newTestEnv(t, nil)
	env.images.delay = 40 * time.Millisecond
	sess := analyzedSession(t, env)

	sub := env.events.Subscribe(sess.ID)
	defer env.events.Unsubscribe(sub)

	res, err := env.engine.EnqueueGeneration(sess.ID, sess.Directions[0].ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	seen := nodeEvents(t, sub, res.NodeID)

	if _, ok := seen[0].(events.NodeCreated); !ok {
		t.Fatalf("first event = %s, want node_created", seen[0].EventType())
	}
	if _, ok := seen[len(seen)-1].(events.GenerationComplete); !ok {
		t.Fatalf("last event = %s, want generation_complete", seen[len(seen)-1].EventType())
	}
	prev := -1
	for _, evt := range seen[1 : len(seen)-1] {
		progress, ok := evt.(events.GenerationProgress)
		if !ok {
			t.Fatalf("interior event = %s, want generation_progress", evt.EventType())
		}
		if progress.Progress < prev {
			t.Fatalf("progress went backwards: %d after %d", progress.Progress, prev)
		}
		prev = progress.Progress
	}
}

func TestFailedNodeEmitsSingleError(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Composer = &failingComposer{err: &domain.RevisionError{Issues: []string{"profile has no usable axes"}}}
	})
	sess := analyzedSession(t, env)

	sub := env.events.Subscribe(sess.ID)
	defer env.events.Unsubscribe(sub)

	res, err := env.engine.EnqueueGeneration(sess.ID, sess.Directions[0].ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	seen := nodeEvents(t, sub, res.NodeID)

	if _, ok := seen[0].(events.NodeCreated); !ok {
		t.Fatalf("first event = %s, want node_created", seen[0].EventType())
	}
	if _, ok := seen[len(seen)-1].(events.Error); !ok {
		t.Fatalf("last event = %s, want error", seen[len(seen)-1].EventType())
	}
	for _, evt := range seen[:len(seen)-1] {
		switch evt.(type) {
		case events.GenerationComplete, events.Error:
			t.Fatalf("unexpected %s before the terminal error", evt.EventType())
		}
	}
}

func TestJobsRunOneAtATime(t *testing.T) {
	env := newTestEnv(t, nil)
	env.images.delay = 30 * time.Millisecond
	sess := analyzedSession(t, env)

	var last string
	for i := 0; i < 3; i++ {
		res, err := env.engine.EnqueueGeneration(sess.ID, sess.Directions[i].ID, "", domain.MediaImage)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		last = res.NodeID
	}
	waitForNode(t, env, sess.ID, last, domain.NodeComplete)

	if peak := env.images.maxSeen.Load(); peak != 1 {
		t.Fatalf("observed %d concurrent generations, want 1", peak)
	}
}

func TestCompositionFailureMarksNode(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Composer = &failingComposer{err: &domain.RevisionError{Issues: []string{"profile has no usable axes"}}}
	})
	sess := analyzedSession(t, env)

	res, err := env.engine.EnqueueGeneration(sess.ID, sess.Directions[0].ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	node := waitForNode(t, env, sess.ID, res.NodeID, domain.NodeError)
	if !strings.Contains(node.Error, "profile has no usable axes") {
		t.Fatalf("node error %q missing revision issue", node.Error)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.images.delay = 50 * time.Millisecond
	sess := analyzedSession(t, env)

	sub := env.events.Subscribe(sess.ID)
	defer env.events.Unsubscribe(sub)

	res, err := env.engine.EnqueueGeneration(sess.ID, sess.Directions[0].ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForNode(t, env, sess.ID, res.NodeID, domain.NodeComplete)

	prev := -1
	count := 0
	for {
		select {
		case evt := <-sub.Events():
			progress, ok := evt.(events.GenerationProgress)
			if !ok {
				continue
			}
			if progress.Progress < prev {
				t.Fatalf("progress went backwards: %d after %d", progress.Progress, prev)
			}
			prev = progress.Progress
			count++
		default:
			if count < 3 {
				t.Fatalf("expected several progress events, got %d", count)
			}
			return
		}
	}
}

func TestParentLinkage(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := analyzedSession(t, env)
	dir := sess.Directions[0]

	first, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, "", domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue root: %v", err)
	}
	waitForNode(t, env, sess.ID, first.NodeID, domain.NodeComplete)

	second, err := env.engine.EnqueueGeneration(sess.ID, dir.ID, first.NodeID, domain.MediaImage)
	if err != nil {
		t.Fatalf("enqueue child: %v", err)
	}
	node := waitForNode(t, env, sess.ID, second.NodeID, domain.NodeComplete)
	if node.ParentNodeID != first.NodeID {
		t.Fatalf("parent = %q, want %q", node.ParentNodeID, first.NodeID)
	}
	if node.Depth != 2 {
		t.Fatalf("depth = %d, want 2", node.Depth)
	}
}

func TestDeleteSessionDropsSubscribers(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := analyzedSession(t, env)

	sub := env.events.Subscribe(sess.ID)
	if !env.engine.DeleteSession(sess.ID) {
		t.Fatalf("delete returned false for live session")
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			// Drain buffered events until the closed channel shows through.
			for range sub.Events() {
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber channel not closed after session delete")
	}
	if _, err := env.engine.GetSession(sess.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePreferencesClampsRate(t *testing.T) {
	env := newTestEnv(t, nil)
	sess, err := env.engine.CreateSession(domain.ModeIterativeRefine, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	rate := 4.2
	got, err := env.engine.UpdatePreferences(sess.ID, PreferenceUpdate{
		ExplorationRate: &rate,
		AxisWeights:     map[string]float64{"palette": 0.8},
	})
	if err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	if got.Preferences.ExplorationRate != 1 {
		t.Fatalf("exploration rate = %v, want clamped to 1", got.Preferences.ExplorationRate)
	}
	if got.Preferences.AxisWeights["palette"] != 0.8 {
		t.Fatalf("axis weight not applied: %v", got.Preferences.AxisWeights)
	}
}
