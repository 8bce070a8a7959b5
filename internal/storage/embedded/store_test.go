package embedded

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.bin")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndGetEpisodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ep := &types.Episode{
		TaskDescription: "patch the parser",
		Context:         types.Context{Domain: "cli", Complexity: types.ComplexitySimple},
		TaskType:        types.TaskRefactoring,
		StartTime:       time.Now(),
	}
	if err := s.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	got, err := s.GetEpisode(ctx, ep.EpisodeID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if got.TaskDescription != ep.TaskDescription {
		t.Errorf("got %q, want %q", got.TaskDescription, ep.TaskDescription)
	}
}

func TestOversizedEpisodeRejected(t *testing.T) {
	s := openTestStore(t)
	ep := &types.Episode{
		TaskDescription: strings.Repeat("x", MaxEpisodeSize+1),
		Context:         types.Context{Domain: "d"},
	}
	err := s.StoreEpisode(context.Background(), ep)
	if err == nil {
		t.Fatal("expected oversized episode to be rejected")
	}
	var memErr *errors.Error
	if !errors.As(err, &memErr) || memErr.Kind != errors.KindStorage {
		t.Errorf("expected Storage kind, got %v", err)
	}
}

func TestDeleteEpisodeRemovesFromIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ep := &types.Episode{TaskDescription: "t", Context: types.Context{Domain: "d"}}
	if err := s.StoreEpisode(ctx, ep); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEpisode(ctx, ep.EpisodeID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEpisode(ctx, ep.EpisodeID); err == nil {
		t.Fatal("expected episode to be gone after delete")
	}
}

func TestReplayRestoresStateAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ep := &types.Episode{TaskDescription: "persisted", Context: types.Context{Domain: "d"}}
	if err := s1.StoreEpisode(ctx, ep); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetEpisode(ctx, ep.EpisodeID)
	if err != nil {
		t.Fatalf("expected episode to survive reopen: %v", err)
	}
	if got.TaskDescription != "persisted" {
		t.Errorf("got %q", got.TaskDescription)
	}
}

func TestReplayHonorsTombstones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ep := &types.Episode{TaskDescription: "to be deleted", Context: types.Context{Domain: "d"}}
	if err := s1.StoreEpisode(ctx, ep); err != nil {
		t.Fatal(err)
	}
	if err := s1.DeleteEpisode(ctx, ep.EpisodeID); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if _, err := s2.GetEpisode(ctx, ep.EpisodeID); err == nil {
		t.Fatal("expected tombstoned episode to stay deleted after replay")
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	if err := s.StoreEmbedding(ctx, "ep-1", &types.Embedding{ItemID: "ep-1", Vector: vec}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEmbedding(ctx, "ep-1", len(vec))
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vec {
		if got.Vector[i] != v {
			t.Fatalf("dim %d: got %v want %v", i, got.Vector[i], v)
		}
	}
}

func TestDeleteEpisodeAlsoRemovesEmbeddingsAndRelationships(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ep := &types.Episode{TaskDescription: "has embedding and relationship", Context: types.Context{Domain: "d"}}
	if err := s.StoreEpisode(ctx, ep); err != nil {
		t.Fatal(err)
	}
	other := &types.Episode{TaskDescription: "other episode", Context: types.Context{Domain: "d"}}
	if err := s.StoreEpisode(ctx, other); err != nil {
		t.Fatal(err)
	}

	vec := []float32{0.1, 0.2, 0.3}
	if err := s.StoreEmbedding(ctx, ep.EpisodeID, &types.Embedding{ItemID: ep.EpisodeID, Vector: vec}); err != nil {
		t.Fatal(err)
	}
	rel := &types.EpisodeRelationship{FromEpisodeID: ep.EpisodeID, ToEpisodeID: other.EpisodeID, Type: types.RelationshipSimilar}
	if err := s.StoreRelationship(ctx, rel); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteEpisode(ctx, ep.EpisodeID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetEmbedding(ctx, ep.EpisodeID, len(vec)); err == nil {
		t.Fatal("expected embedding to be gone after episode delete")
	}
	rels, err := s.ListRelationships(ctx, ep.EpisodeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 0 {
		t.Fatalf("expected no relationships referencing deleted episode, got %d", len(rels))
	}
}

func TestStoreRelationshipRejectsSelfReference(t *testing.T) {
	s := openTestStore(t)
	err := s.StoreRelationship(context.Background(), &types.EpisodeRelationship{
		FromEpisodeID: "same", ToEpisodeID: "same", Type: types.RelationshipSimilar,
	})
	if err == nil {
		t.Fatal("expected self-reference rejection")
	}
}
