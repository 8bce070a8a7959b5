package capacity

import (
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

func episodeAt(id string, start time.Time) *types.Episode {
	return &types.Episode{EpisodeID: id, StartTime: start, TaskType: types.TaskDebugging}
}

func TestEvictReturnsNilUnderCap(t *testing.T) {
	m := New(config.EvictionLRU)
	now := time.Now()
	episodes := []*types.Episode{
		episodeAt("a", now),
		episodeAt("b", now),
	}

	victims := m.Evict(episodes, 5, now)
	if victims != nil {
		t.Fatalf("expected nil, got %v", victims)
	}
}

func TestEvictLRUOldestFirst(t *testing.T) {
	m := New(config.EvictionLRU)
	now := time.Now()

	episodes := []*types.Episode{
		episodeAt("oldest", now.Add(-72*time.Hour)),
		episodeAt("middle", now.Add(-48*time.Hour)),
		episodeAt("newest", now.Add(-1*time.Hour)),
	}

	// count=3, max=2 -> evict (3-2)+1 = 2
	victims := m.Evict(episodes, 2, now)
	if len(victims) != 2 {
		t.Fatalf("expected 2 victims, got %d: %v", len(victims), victims)
	}
	got := map[string]bool{victims[0]: true, victims[1]: true}
	if !got["oldest"] || !got["middle"] {
		t.Fatalf("expected oldest+middle evicted, got %v", victims)
	}
}

func TestEvictLRUUsesEndTimeWhenPresent(t *testing.T) {
	m := New(config.EvictionLRU)
	now := time.Now()

	started := episodeAt("started-recently-ended-long-ago", now.Add(-1*time.Hour))
	end := now.Add(-100 * time.Hour)
	started.EndTime = &end

	stillRunning := episodeAt("still-running", now.Add(-50*time.Hour))

	victims := m.Evict([]*types.Episode{started, stillRunning}, 2, now)
	if len(victims) != 1 || victims[0] != "started-recently-ended-long-ago" {
		t.Fatalf("expected end_time-based episode evicted first, got %v", victims)
	}
}

func TestEvictRelevanceWeightedPrefersLowQuality(t *testing.T) {
	m := New(config.EvictionRelevanceWeighted)
	now := time.Now()

	highQuality := episodeAt("high-quality", now.Add(-1*time.Hour))
	highQuality.SalientFeatures = &types.SalientFeatures{
		KeyInsights: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	}

	lowQuality := episodeAt("low-quality", now.Add(-1*time.Hour))
	lowQuality.SalientFeatures = &types.SalientFeatures{}

	victims := m.Evict([]*types.Episode{highQuality, lowQuality}, 2, now)
	if len(victims) != 1 || victims[0] != "low-quality" {
		t.Fatalf("expected low-quality episode evicted, got %v", victims)
	}
}

func TestEvictRelevanceWeightedFallsBackToRewardThenDefault(t *testing.T) {
	m := New(config.EvictionRelevanceWeighted)
	now := time.Now()

	noAnnotations := episodeAt("no-annotations", now)
	lowReward := episodeAt("low-reward", now)
	lowReward.Reward = &types.Reward{Total: 0.2}

	victims := m.Evict([]*types.Episode{noAnnotations, lowReward}, 2, now)
	if len(victims) != 1 || victims[0] != "low-reward" {
		t.Fatalf("expected low-reward episode (quality 0.1) evicted over default (quality 0.5), got %v", victims)
	}
}

func TestEvictExactSizeRequested(t *testing.T) {
	m := New(config.EvictionRelevanceWeighted)
	now := time.Now()

	episodes := make([]*types.Episode, 0, 10)
	for i := 0; i < 10; i++ {
		episodes = append(episodes, episodeAt(string(rune('a'+i)), now.Add(time.Duration(-i)*time.Hour)))
	}

	victims := m.Evict(episodes, 6, now)
	if len(victims) != 5 { // (10-6)+1
		t.Fatalf("expected 5 victims, got %d", len(victims))
	}
}
