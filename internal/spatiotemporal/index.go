// Package spatiotemporal implements the two-level domain/task_type
// index of weekly episode clusters described in spec.md §4.6, and the
// hierarchical retriever + MMR diversity pass built on top of it in
// §4.7.
package spatiotemporal

import (
	"sort"
	"sync"
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

// Index is the domain -> task_type -> []*TemporalCluster structure.
// All access is protected by a single RWMutex; the index is small
// relative to the episode store (episode IDs only) so a coarse lock is
// sufficient, matching the teacher's map+mutex idiom throughout
// internal/memory.
type Index struct {
	mu       sync.RWMutex
	byDomain map[string]map[types.TaskType][]*types.TemporalCluster
}

// New returns an empty index.
func New() *Index {
	return &Index{byDomain: make(map[string]map[types.TaskType][]*types.TemporalCluster)}
}

// InsertEpisode places ep into the weekly cluster containing its
// start time, creating the domain/task_type buckets and the cluster
// itself as needed.
func (idx *Index) InsertEpisode(ep *types.Episode) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byTaskType, ok := idx.byDomain[ep.Context.Domain]
	if !ok {
		byTaskType = make(map[types.TaskType][]*types.TemporalCluster)
		idx.byDomain[ep.Context.Domain] = byTaskType
	}

	clusters := byTaskType[ep.TaskType]
	for _, c := range clusters {
		if c.Contains(ep.StartTime) {
			c.EpisodeIDs[ep.EpisodeID] = struct{}{}
			return
		}
	}

	start, end := types.WeeklyWindowFor(ep.StartTime)
	cluster := &types.TemporalCluster{
		Granularity: types.GranularityWeekly,
		Start:       start,
		End:         end,
		EpisodeIDs:  map[string]struct{}{ep.EpisodeID: {}},
	}
	byTaskType[ep.TaskType] = append(clusters, cluster)
}

// RemoveEpisode scans every cluster and removes id wherever present.
func (idx *Index) RemoveEpisode(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, byTaskType := range idx.byDomain {
		for _, clusters := range byTaskType {
			for _, c := range clusters {
				delete(c.EpisodeIDs, id)
			}
		}
	}
}

// CleanupEmptyClusters drops clusters left with zero episode IDs after
// a batch of removals, an explicit maintenance step rather than an
// implicit one so callers can control when the scan runs.
func (idx *Index) CleanupEmptyClusters() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for domain, byTaskType := range idx.byDomain {
		for taskType, clusters := range byTaskType {
			kept := clusters[:0]
			for _, c := range clusters {
				if c.Size() > 0 {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				delete(byTaskType, taskType)
			} else {
				byTaskType[taskType] = kept
			}
		}
		if len(byTaskType) == 0 {
			delete(idx.byDomain, domain)
		}
	}
}

// RecentEpisodeIDs returns episode IDs across all domains/task_types,
// most-recent cluster first, up to limit IDs.
func (idx *Index) RecentEpisodeIDs(limit int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type clusterRef struct {
		cluster *types.TemporalCluster
	}
	var all []clusterRef
	for _, byTaskType := range idx.byDomain {
		for _, clusters := range byTaskType {
			for _, c := range clusters {
				all = append(all, clusterRef{c})
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].cluster.Start.After(all[j].cluster.Start)
	})

	var out []string
	for _, ref := range all {
		for id := range ref.cluster.EpisodeIDs {
			out = append(out, id)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// EpisodeIDsByTaskTypeAndRange returns episode IDs for a task_type
// whose cluster window overlaps [since, until).
func (idx *Index) EpisodeIDsByTaskTypeAndRange(taskType types.TaskType, since, until time.Time) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	for _, byTaskType := range idx.byDomain {
		clusters, ok := byTaskType[taskType]
		if !ok {
			continue
		}
		for _, c := range clusters {
			if c.Start.Before(until) && c.End.After(since) {
				for id := range c.EpisodeIDs {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// TaskTypesForDomain enumerates the task types with at least one
// non-empty cluster under domain.
func (idx *Index) TaskTypesForDomain(domain string) []types.TaskType {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byTaskType, ok := idx.byDomain[domain]
	if !ok {
		return nil
	}
	out := make([]types.TaskType, 0, len(byTaskType))
	for tt, clusters := range byTaskType {
		total := 0
		for _, c := range clusters {
			total += c.Size()
		}
		if total > 0 {
			out = append(out, tt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllEpisodeIDs returns every episode ID currently tracked by the
// index, used as the hierarchical retriever's candidate source when no
// narrower filter applies.
func (idx *Index) AllEpisodeIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, byTaskType := range idx.byDomain {
		for _, clusters := range byTaskType {
			for _, c := range clusters {
				for id := range c.EpisodeIDs {
					seen[id] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}
