package spatiotemporal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/types"
)

type fakeBackend struct {
	episodes map[string]*types.Episode
}

func (f *fakeBackend) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	ep, ok := f.episodes[id]
	if !ok {
		return nil, errors.NotFound("episode", id)
	}
	return ep, nil
}

func seedBackendAndIndex(t *testing.T) (*fakeBackend, *Index) {
	t.Helper()
	backend := &fakeBackend{episodes: make(map[string]*types.Episode)}
	idx := New()
	now := time.Now()

	for i := 0; i < 5; i++ {
		ep := &types.Episode{
			EpisodeID:       fmt.Sprintf("web-%d", i),
			TaskDescription: "fix login bug in auth handler",
			Context:         types.Context{Domain: "web-api", Complexity: types.ComplexityModerate},
			TaskType:        types.TaskDebugging,
			StartTime:       now.Add(-time.Duration(i) * time.Hour),
		}
		backend.episodes[ep.EpisodeID] = ep
		idx.InsertEpisode(ep)
	}

	other := &types.Episode{
		EpisodeID:       "other-domain",
		TaskDescription: "write onboarding documentation",
		Context:         types.Context{Domain: "docs", Complexity: types.ComplexitySimple},
		TaskType:        types.TaskDocumentation,
		StartTime:       now,
	}
	backend.episodes[other.EpisodeID] = other
	idx.InsertEpisode(other)

	return backend, idx
}

func TestRetrieveFiltersByDomainAndTaskType(t *testing.T) {
	backend, idx := seedBackendAndIndex(t)
	r := NewRetriever(idx, config.DefaultRetrievalConfig())

	results, err := r.Retrieve(context.Background(), backend, RetrievalQuery{
		QueryText: "login bug",
		Domain:    "web-api",
		TaskType:  types.TaskDebugging,
	}, 10, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 web-api debugging episodes, got %d", len(results))
	}
	for _, r := range results {
		if r.EpisodeID == "other-domain" {
			t.Fatalf("expected docs-domain episode filtered out")
		}
	}
}

func TestRetrieveRespectsK(t *testing.T) {
	backend, idx := seedBackendAndIndex(t)
	r := NewRetriever(idx, config.DefaultRetrievalConfig())

	results, err := r.Retrieve(context.Background(), backend, RetrievalQuery{Domain: "web-api"}, 2, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k=2 results, got %d", len(results))
	}
}

func TestRetrieveScoresDescending(t *testing.T) {
	backend, idx := seedBackendAndIndex(t)
	r := NewRetriever(idx, config.DefaultRetrievalConfig())

	results, err := r.Retrieve(context.Background(), backend, RetrievalQuery{Domain: "web-api"}, 10, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("expected descending scores, got %v then %v at index %d", results[i-1].Score, results[i].Score, i)
		}
	}
}

func TestMMRReturnsRequestedCountAndPrefersUnseenDiversity(t *testing.T) {
	backend, idx := seedBackendAndIndex(t)
	r := NewRetriever(idx, config.DefaultRetrievalConfig())

	candidates, err := r.Retrieve(context.Background(), backend, RetrievalQuery{Domain: "web-api"}, 10, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	picked := MMR(context.Background(), backend, candidates, 3, 0.7)
	if len(picked) != 3 {
		t.Fatalf("expected 3 picks, got %d", len(picked))
	}

	seen := make(map[string]bool)
	for _, p := range picked {
		if seen[p.EpisodeID] {
			t.Fatalf("MMR returned duplicate episode %s", p.EpisodeID)
		}
		seen[p.EpisodeID] = true
	}
}

func TestRetrievalCachePutGetAndInvalidate(t *testing.T) {
	c := NewRetrievalCache(config.DefaultRetrievalConfig())
	defer c.Close()

	q := RetrievalQuery{QueryText: "login bug", Domain: "web-api", TaskType: types.TaskDebugging}
	key := Key(q, 5, 0.2)
	answer := []ScoredEpisode{{EpisodeID: "web-0", Score: 0.9}}

	c.Put(key, q, answer)
	if _, ok := c.Get(key); !ok {
		t.Fatalf("expected cache hit after put")
	}

	c.InvalidateEpisode("web-api", string(types.TaskDebugging))
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected cache miss after invalidation")
	}
}
