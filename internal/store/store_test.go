package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"atelier/internal/domain"
	"atelier/internal/infra"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), time.Hour, infra.NopLogger())
}

func TestCreateRejectsUnknownMode(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("sculpting", ""); err == nil {
		t.Fatal("expected validation error for unknown mode")
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(domain.ModeCharacterDesign, "moody swordsman")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.State != domain.StateInitializing {
		t.Fatalf("state = %s, want initializing", sess.State)
	}
	got := s.Get(sess.ID)
	if got == nil || got.Caption != "moody swordsman" {
		t.Fatalf("Get returned %+v", got)
	}
	if s.Get("nope") != nil {
		t.Fatal("Get for unknown id should return nil")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.Create(domain.ModeAssetSet, "")
	time.Sleep(2 * time.Millisecond)
	second, _ := s.Create(domain.ModeAssetSet, "")

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d sessions", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatal("List is not newest first")
	}
}

func TestSetReferencesDedupesAndAdvancesState(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(domain.ModeCharacterDesign, "")

	// Empty set never changes state.
	updated, err := s.SetReferences(sess.ID, nil, "")
	if err != nil {
		t.Fatalf("SetReferences: %v", err)
	}
	if updated.State != domain.StateInitializing {
		t.Fatalf("state changed on empty reference set: %s", updated.State)
	}

	updated, err = s.SetReferences(sess.ID, []string{"u1", "u2", "u1"}, "caption")
	if err != nil {
		t.Fatalf("SetReferences: %v", err)
	}
	if len(updated.ReferenceURLs) != 2 {
		t.Fatalf("references not deduplicated: %v", updated.ReferenceURLs)
	}
	if updated.State != domain.StateReferencesUploaded {
		t.Fatalf("state = %s, want references_uploaded", updated.State)
	}
	if updated.Caption != "caption" {
		t.Fatalf("caption = %q", updated.Caption)
	}

	// Merge keeps existing urls and insertion order.
	updated, _ = s.SetReferences(sess.ID, []string{"u3", "u2"}, "")
	want := []string{"u1", "u2", "u3"}
	if len(updated.ReferenceURLs) != len(want) {
		t.Fatalf("merged references: %v", updated.ReferenceURLs)
	}
	for i, u := range want {
		if updated.ReferenceURLs[i] != u {
			t.Fatalf("merged references: %v, want %v", updated.ReferenceURLs, want)
		}
	}

	// Already past references_uploaded: state stays put.
	if _, err := s.SetState(sess.ID, domain.StateDirectionsPlanned); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	updated, _ = s.SetReferences(sess.ID, []string{"u4"}, "")
	if updated.State != domain.StateDirectionsPlanned {
		t.Fatalf("state regressed to %s", updated.State)
	}
}

func TestDeleteSemantics(t *testing.T) {
	s := newTestStore(t)
	if s.Delete("missing") {
		t.Fatal("deleting a nonexistent session must return false")
	}
	sess, _ := s.Create(domain.ModeWorkflow, "")
	if !s.Delete(sess.ID) {
		t.Fatal("deleting an existing session must return true")
	}
	if len(s.List()) != 0 {
		t.Fatal("deleted session still listed")
	}
}

func TestNodeMutators(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(domain.ModeCharacterDesign, "")
	if _, err := s.SetDirections(sess.ID, []domain.Direction{{ID: "d1", Index: 0, Label: "Bold ink"}}); err != nil {
		t.Fatalf("SetDirections: %v", err)
	}

	if _, err := s.AddNode(sess.ID, "missing", domain.GenerationNode{ID: "n1"}, 0); err == nil {
		t.Fatal("AddNode to missing direction must fail")
	}

	node := domain.GenerationNode{ID: "n1", Status: domain.NodeQueued, MediaType: domain.MediaImage}
	added, err := s.AddNode(sess.ID, "d1", node, 0)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if added.Depth != 1 {
		t.Fatalf("first node depth = %d, want 1", added.Depth)
	}

	updated, err := s.UpdateNode(sess.ID, "n1", func(n *domain.GenerationNode) {
		n.Status = domain.NodeGenerating
		n.Progress = 40
	})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if updated.Status != domain.NodeGenerating || updated.Progress != 40 {
		t.Fatalf("UpdateNode snapshot: %+v", updated)
	}

	got, err := s.GetNode(sess.ID, "n1")
	if err != nil || got.Progress != 40 {
		t.Fatalf("GetNode: %+v err=%v", got, err)
	}

	dir, err := s.GetDirection(sess.ID, "d1")
	if err != nil || len(dir.Nodes) != 1 {
		t.Fatalf("GetDirection: %+v err=%v", dir, err)
	}

	if err := s.DeleteNode(sess.ID, "n1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := s.DeleteNode(sess.ID, "n1"); err == nil {
		t.Fatal("DeleteNode twice must fail")
	}
}

func TestAddNodeEnforcesDepthBound(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(domain.ModeCharacterDesign, "")
	if _, err := s.SetDirections(sess.ID, []domain.Direction{{ID: "d1", Index: 0, Label: "Bold ink"}}); err != nil {
		t.Fatalf("SetDirections: %v", err)
	}

	const maxDepth = 3
	for i := 0; i < maxDepth; i++ {
		added, err := s.AddNode(sess.ID, "d1", domain.GenerationNode{ID: fmt.Sprintf("n%d", i)}, maxDepth)
		if err != nil {
			t.Fatalf("AddNode %d: %v", i, err)
		}
		if added.Depth != i+1 {
			t.Fatalf("node %d depth = %d, want %d", i, added.Depth, i+1)
		}
	}
	if _, err := s.AddNode(sess.ID, "d1", domain.GenerationNode{ID: "overflow"}, maxDepth); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("append past the bound returned %v, want validation error", err)
	}
}

func TestAddNodeConcurrentAppendsStayBounded(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(domain.ModeCharacterDesign, "")
	if _, err := s.SetDirections(sess.ID, []domain.Direction{{ID: "d1", Index: 0, Label: "Bold ink"}}); err != nil {
		t.Fatalf("SetDirections: %v", err)
	}

	const (
		maxDepth = 3
		workers  = 16
	)
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddNode(sess.ID, "d1", domain.GenerationNode{ID: fmt.Sprintf("n%d", i)}, maxDepth)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrValidation):
		default:
			t.Fatalf("unexpected AddNode error: %v", err)
		}
	}
	if accepted != maxDepth {
		t.Fatalf("accepted %d appends, want %d", accepted, maxDepth)
	}

	dir, err := s.GetDirection(sess.ID, "d1")
	if err != nil {
		t.Fatalf("GetDirection: %v", err)
	}
	if len(dir.Nodes) != maxDepth {
		t.Fatalf("chain holds %d nodes, want %d", len(dir.Nodes), maxDepth)
	}
	for i, n := range dir.Nodes {
		if n.Depth != i+1 {
			t.Fatalf("node %d depth = %d, want %d", i, n.Depth, i+1)
		}
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.Create(domain.ModeCharacterDesign, "")
	s.SetDirections(sess.ID, []domain.Direction{{ID: "d1", StyleTags: []string{"ink"}}})

	snap := s.Get(sess.ID)
	snap.Directions[0].StyleTags[0] = "mutated"
	snap.Directions[0].Label = "mutated"

	fresh := s.Get(sess.ID)
	if fresh.Directions[0].StyleTags[0] == "mutated" || fresh.Directions[0].Label == "mutated" {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logger := infra.NopLogger()
	s := New(dir, time.Hour, logger)

	sess, _ := s.Create(domain.ModeNarrativeFrames, "storyboard")
	s.SetReferences(sess.ID, []string{"u1", "u2"}, "")
	s.SetSalienceProfile(sess.ID, &domain.SalienceProfile{
		Axes:      []domain.SalienceAxis{{Name: "line_weight", Weight: 0.8, Value: 0.4}},
		StyleTags: []string{"ink", "noir"},
	})
	s.SetDirections(sess.ID, []domain.Direction{{ID: "d1", Index: 0, Label: "Noir"}})
	completed := time.Now().UTC().Truncate(time.Second)
	s.AddNode(sess.ID, "d1", domain.GenerationNode{
		ID: "n1", Status: domain.NodeComplete, MediaType: domain.MediaImage,
		OutputURL: "http://x/static/n1.png", Progress: 100,
		CreatedAt: completed, CompletedAt: &completed,
	}, 0)

	if flushed := s.Flush(); flushed != 1 {
		t.Fatalf("Flush persisted %d sessions, want 1", flushed)
	}

	// Simulated process restart: a fresh store over the same data path.
	restarted := New(dir, time.Hour, logger)
	got := restarted.Get(sess.ID)
	if got == nil {
		t.Fatal("session not reloaded after restart")
	}
	if got.Mode != domain.ModeNarrativeFrames || got.Caption != "storyboard" {
		t.Fatalf("reloaded session mismatch: %+v", got)
	}
	if got.SalienceProfile == nil || got.SalienceProfile.Axes[0].Name != "line_weight" {
		t.Fatalf("profile not reconstructed: %+v", got.SalienceProfile)
	}
	if len(got.Directions) != 1 || len(got.Directions[0].Nodes) != 1 {
		t.Fatalf("directions/nodes not reconstructed: %+v", got.Directions)
	}
	node := got.Directions[0].Nodes[0]
	if node.CompletedAt == nil || !node.CompletedAt.Equal(completed) {
		t.Fatalf("CompletedAt not reconstructed as a time: %v", node.CompletedAt)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("CreatedAt drifted: %v vs %v", got.CreatedAt, sess.CreatedAt)
	}
}

func TestDeleteRemovesDurableDocument(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Hour, infra.NopLogger())
	sess, _ := s.Create(domain.ModeAssetSet, "")
	s.Flush()

	s.Delete(sess.ID)

	restarted := New(dir, time.Hour, infra.NopLogger())
	if restarted.Get(sess.ID) != nil {
		t.Fatal("deleted session survived restart")
	}
}
