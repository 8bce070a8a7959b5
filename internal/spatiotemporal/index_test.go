package spatiotemporal

import (
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

func episode(id, domain string, taskType types.TaskType, start time.Time) *types.Episode {
	return &types.Episode{
		EpisodeID: id,
		Context:   types.Context{Domain: domain},
		TaskType:  taskType,
		StartTime: start,
	}
}

func TestInsertEpisodeCreatesAndReusesCluster(t *testing.T) {
	idx := New()
	now := time.Now()

	idx.InsertEpisode(episode("a", "web-api", types.TaskDebugging, now))
	idx.InsertEpisode(episode("b", "web-api", types.TaskDebugging, now.Add(time.Hour)))

	clusters := idx.byDomain["web-api"][types.TaskDebugging]
	if len(clusters) != 1 {
		t.Fatalf("expected both episodes in one weekly cluster, got %d clusters", len(clusters))
	}
	if clusters[0].Size() != 2 {
		t.Fatalf("expected cluster size 2, got %d", clusters[0].Size())
	}
}

func TestInsertEpisodeCreatesSeparateClusterAcrossWeeks(t *testing.T) {
	idx := New()
	now := time.Now()

	idx.InsertEpisode(episode("a", "web-api", types.TaskDebugging, now))
	idx.InsertEpisode(episode("b", "web-api", types.TaskDebugging, now.Add(14*24*time.Hour)))

	clusters := idx.byDomain["web-api"][types.TaskDebugging]
	if len(clusters) != 2 {
		t.Fatalf("expected 2 separate weekly clusters, got %d", len(clusters))
	}
}

func TestRemoveEpisodeAndCleanup(t *testing.T) {
	idx := New()
	now := time.Now()

	idx.InsertEpisode(episode("a", "web-api", types.TaskDebugging, now))
	idx.RemoveEpisode("a")

	if got := idx.byDomain["web-api"][types.TaskDebugging][0].Size(); got != 0 {
		t.Fatalf("expected empty cluster after removal, got size %d", got)
	}

	idx.CleanupEmptyClusters()
	if _, ok := idx.byDomain["web-api"]; ok {
		t.Fatalf("expected empty domain bucket pruned")
	}
}

func TestRecentEpisodeIDsOrdersNewestFirst(t *testing.T) {
	idx := New()
	now := time.Now()

	idx.InsertEpisode(episode("old", "web-api", types.TaskDebugging, now.Add(-21*24*time.Hour)))
	idx.InsertEpisode(episode("new", "web-api", types.TaskDebugging, now))

	ids := idx.RecentEpisodeIDs(10)
	if len(ids) != 2 || ids[0] != "new" {
		t.Fatalf("expected newest cluster first, got %v", ids)
	}
}

func TestEpisodeIDsByTaskTypeAndRange(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.InsertEpisode(episode("a", "web-api", types.TaskDebugging, now))
	idx.InsertEpisode(episode("b", "web-api", types.TaskTesting, now))

	ids := idx.EpisodeIDsByTaskTypeAndRange(types.TaskDebugging, now.Add(-time.Hour), now.Add(time.Hour))
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected only the debugging episode, got %v", ids)
	}
}

func TestTaskTypesForDomainExcludesEmptyClusters(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.InsertEpisode(episode("a", "web-api", types.TaskDebugging, now))
	idx.RemoveEpisode("a")
	idx.InsertEpisode(episode("b", "web-api", types.TaskTesting, now))

	tts := idx.TaskTypesForDomain("web-api")
	if len(tts) != 1 || tts[0] != types.TaskTesting {
		t.Fatalf("expected only testing (debugging emptied), got %v", tts)
	}
}
