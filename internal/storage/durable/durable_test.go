package durable

import (
	"context"
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", "", config.DefaultPoolConfig(), config.DefaultRetrievalConfig(), 1024)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestValidateConnectionStringRejectsInsecureURLs(t *testing.T) {
	cases := []struct {
		url, token string
		wantErr    bool
	}{
		{"http://example.com", "tok", true},
		{"libsql://x.turso.io", "   ", true},
		{"libsql://x.turso.io", "", true},
		{"libsql://x.turso.io", "real-token", false},
		{"file:./local.db", "", false},
		{":memory:", "", false},
	}

	for _, c := range cases {
		err := validateConnectionString(c.url, c.token)
		if c.wantErr && err == nil {
			t.Errorf("validateConnectionString(%q, %q) = nil, want Security error", c.url, c.token)
		}
		if !c.wantErr && err != nil {
			t.Errorf("validateConnectionString(%q, %q) = %v, want nil", c.url, c.token, err)
		}
		if c.wantErr {
			var memErr *errors.Error
			if !errors.As(err, &memErr) || memErr.Kind != errors.KindSecurity {
				t.Errorf("expected Security kind, got %v", err)
			}
		}
	}
}

func TestStoreAndGetEpisode(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ep := &types.Episode{
		TaskDescription: "refactor the pool",
		Context:         types.Context{Domain: "backend", Complexity: types.ComplexityModerate, Tags: []string{"go", "sql"}},
		TaskType:        types.TaskCodeGeneration,
		StartTime:       time.Now().Add(-time.Hour),
	}

	if err := db.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	if ep.EpisodeID == "" {
		t.Fatal("expected StoreEpisode to assign an ID")
	}

	got, err := db.GetEpisode(ctx, ep.EpisodeID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if got.TaskDescription != ep.TaskDescription || got.Context.Domain != "backend" {
		t.Errorf("GetEpisode returned %+v, want task/domain to match", got)
	}
}

func TestGetEpisodeNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetEpisode(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	var memErr *errors.Error
	if !errors.As(err, &memErr) || memErr.Kind != errors.KindNotFound {
		t.Errorf("expected NotFound kind, got %v", err)
	}
}

func TestStoreEpisodeWithCapacityEvictsOldest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Hour)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ep := &types.Episode{
			TaskDescription: "task",
			Context:         types.Context{Domain: "evict-domain"},
			TaskType:        types.TaskOther,
			StartTime:       base.Add(time.Duration(i) * time.Hour),
		}
		if err := db.StoreEpisodeWithCapacity(ctx, ep, 3); err != nil {
			t.Fatalf("StoreEpisodeWithCapacity: %v", err)
		}
		ids = append(ids, ep.EpisodeID)
	}

	count, err := db.CountEpisodes(ctx, "evict-domain")
	if err != nil {
		t.Fatalf("CountEpisodes: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 episodes after capacity eviction, got %d", count)
	}

	// The two oldest (ids[0], ids[1]) should have been evicted.
	if _, err := db.GetEpisode(ctx, ids[0]); err == nil {
		t.Error("expected oldest episode to be evicted")
	}
	if _, err := db.GetEpisode(ctx, ids[4]); err != nil {
		t.Error("expected newest episode to survive")
	}
}

func TestStoreAndGetEmbeddingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}

	if err := db.StoreEmbedding(ctx, "ep-1", &types.Embedding{ItemID: "ep-1", Vector: vec}); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	got, err := db.GetEmbedding(ctx, "ep-1", 1536)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if len(got.Vector) != len(vec) {
		t.Fatalf("expected %d dims, got %d", len(vec), len(got.Vector))
	}
	for i := range vec {
		if got.Vector[i] != vec[i] {
			t.Fatalf("dim %d: got %v, want %v", i, got.Vector[i], vec[i])
		}
	}
}

func TestStoreRelationshipRejectsSelfReference(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.StoreRelationship(ctx, &types.EpisodeRelationship{
		FromEpisodeID: "same", ToEpisodeID: "same", Type: types.RelationshipSimilar,
	})
	if err == nil {
		t.Fatal("expected self-reference error")
	}
	var memErr *errors.Error
	if !errors.As(err, &memErr) || memErr.Kind != errors.KindRelationship {
		t.Errorf("expected Relationship kind, got %v", err)
	}
}
