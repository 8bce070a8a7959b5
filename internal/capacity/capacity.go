// Package capacity implements the eviction-set computation used when
// an engine-configured episode limit is exceeded. It never deletes
// anything itself — it only answers "which episode IDs should go",
// leaving the actual multi-backend delete to the caller (internal/engine).
package capacity

import (
	"math"
	"sort"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Manager computes eviction sets per spec.md §4.4.
type Manager struct {
	policy config.EvictionPolicy
}

// New builds a Manager for the given policy.
func New(policy config.EvictionPolicy) *Manager {
	return &Manager{policy: policy}
}

// Evict returns the episode IDs to remove so that len(episodes)-len(evicted) <= maxEpisodes,
// with one extra slot freed to make room for the episode about to be inserted.
// Returns nil if episodes is already under the cap.
func (m *Manager) Evict(episodes []*types.Episode, maxEpisodes int, now time.Time) []string {
	assert.Always(maxEpisodes >= 0, "capacity: max episodes is non-negative", map[string]any{
		"max_episodes": maxEpisodes,
	})

	count := len(episodes)
	if count < maxEpisodes {
		return nil
	}

	n := (count - maxEpisodes) + 1
	if n > count {
		n = count
	}

	var victims []string
	switch m.policy {
	case config.EvictionLRU:
		victims = evictLRU(episodes, n)
	default:
		victims = evictRelevanceWeighted(episodes, n, now)
	}

	assert.Always(len(victims) == n, "capacity: eviction set matches requested size", map[string]any{
		"requested": n,
		"got":       len(victims),
	})
	return victims
}

// evictLRU sorts by end_time (falling back to start_time) ascending
// and takes the oldest n.
func evictLRU(episodes []*types.Episode, n int) []string {
	sorted := append([]*types.Episode(nil), episodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := lruTimestamp(sorted[i])
		tj := lruTimestamp(sorted[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].EpisodeID < sorted[j].EpisodeID
	})

	out := make([]string, 0, n)
	for i := 0; i < n && i < len(sorted); i++ {
		out = append(out, sorted[i].EpisodeID)
	}
	return out
}

func lruTimestamp(ep *types.Episode) time.Time {
	if ep.EndTime != nil {
		return *ep.EndTime
	}
	return ep.StartTime
}

// evictRelevanceWeighted scores each episode 0.7*quality + 0.3*recency
// and takes the n lowest-scoring episodes.
func evictRelevanceWeighted(episodes []*types.Episode, n int, now time.Time) []string {
	type scored struct {
		id    string
		score float64
	}

	scores := make([]scored, 0, len(episodes))
	for _, ep := range episodes {
		scores = append(scores, scored{id: ep.EpisodeID, score: relevanceScore(ep, now)})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score < scores[j].score
		}
		return scores[i].id < scores[j].id
	})

	out := make([]string, 0, n)
	for i := 0; i < n && i < len(scores); i++ {
		out = append(out, scores[i].id)
	}
	return out
}

// relevanceScore implements spec.md §4.4's RelevanceWeighted formula.
func relevanceScore(ep *types.Episode, now time.Time) float64 {
	quality := qualityOf(ep)
	recency := recencyOf(ep, now)
	return 0.7*quality + 0.3*recency
}

func qualityOf(ep *types.Episode) float64 {
	if ep.SalientFeatures != nil {
		q := float64(ep.SalientFeatures.Count()) / 10.0
		return clamp01(q)
	}
	if ep.Reward != nil {
		return clamp01(ep.Reward.Total / 2.0)
	}
	return 0.5
}

func recencyOf(ep *types.Episode, now time.Time) float64 {
	ts := lruTimestamp(ep)
	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / 24.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
