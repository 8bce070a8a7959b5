package spatiotemporal

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/features"
	"github.com/cliairmonitor/epimem/internal/types"
)

// RetrievalQuery is the input to the hierarchical retriever, per
// spec.md §4.7. Domain/TaskType empty means "no filter".
type RetrievalQuery struct {
	QueryText      string
	QueryEmbedding []float32
	Domain         string
	TaskType       types.TaskType
}

// EpisodeGetter is the minimal episode lookup the retriever needs; any
// storage.Backend satisfies it without this package importing storage.
type EpisodeGetter interface {
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)
}

// ScoredEpisode pairs an episode ID with its similarity score.
type ScoredEpisode struct {
	EpisodeID string
	Score     float64
}

// Retriever runs the four-level filter/score pipeline over the index
// and a backend, per spec.md §4.7.
type Retriever struct {
	index *Index
	cfg   *config.RetrievalConfig
}

// NewRetriever builds a Retriever over idx using cfg (nil uses
// config.DefaultRetrievalConfig()).
func NewRetriever(idx *Index, cfg *config.RetrievalConfig) *Retriever {
	if cfg == nil {
		cfg = config.DefaultRetrievalConfig()
	}
	return &Retriever{index: idx, cfg: cfg}
}

// Retrieve resolves q against the index and backend, returning up to k
// scored episode IDs ordered by descending similarity. embeddings maps
// episode ID to its stored embedding vector; the caller (internal/engine)
// resolves the dimension bucket, so this package stays storage-agnostic.
// A nil or incomplete map just falls back to text similarity for the
// episodes it's missing.
func (r *Retriever) Retrieve(ctx context.Context, backend EpisodeGetter, q RetrievalQuery, k int, now time.Time, embeddings map[string][]float32) ([]ScoredEpisode, error) {
	candidateIDs := r.candidateIDs(q)

	episodes := make([]*types.Episode, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		ep, err := backend.GetEpisode(ctx, id)
		if err != nil {
			continue // a candidate no longer retrievable is skipped, not fatal
		}
		episodes = append(episodes, ep)
	}

	episodes = domainFilter(episodes, q.Domain)
	episodes = taskTypeFilter(episodes, q.TaskType)
	episodes = temporalClusterSelect(episodes, r.cfg.MaxClustersToSearch)

	scored := make([]ScoredEpisode, 0, len(episodes))
	for _, ep := range episodes {
		scored = append(scored, ScoredEpisode{
			EpisodeID: ep.EpisodeID,
			Score:     similarityScore(ep, q, r.cfg.TemporalBiasWeight, now, embeddings[ep.EpisodeID]),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// candidateIDs narrows the index lookup to the query's task_type
// (across all domains) when both domain and task_type are set, falling
// back to every tracked episode ID; the domain itself is filtered later.
func (r *Retriever) candidateIDs(q RetrievalQuery) []string {
	if q.Domain != "" && q.TaskType != "" {
		return r.index.EpisodeIDsByTaskTypeAndRange(q.TaskType, time.Time{}, time.Now().AddDate(100, 0, 0))
	}
	return r.index.AllEpisodeIDs()
}

func domainFilter(episodes []*types.Episode, domain string) []*types.Episode {
	if domain == "" {
		return episodes
	}
	out := episodes[:0]
	for _, ep := range episodes {
		if ep.Context.Domain == domain {
			out = append(out, ep)
		}
	}
	return out
}

func taskTypeFilter(episodes []*types.Episode, taskType types.TaskType) []*types.Episode {
	if taskType == "" {
		return episodes
	}
	out := episodes[:0]
	for _, ep := range episodes {
		if ep.TaskType == taskType {
			out = append(out, ep)
		}
	}
	return out
}

// temporalClusterSelect sorts by start_time descending and retains the
// most recent slice, sized candidates/maxClustersToSearch floored at
// 10 and capped at the candidate count.
func temporalClusterSelect(episodes []*types.Episode, maxClustersToSearch int) []*types.Episode {
	sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].StartTime.After(episodes[j].StartTime) })

	if maxClustersToSearch <= 0 {
		maxClustersToSearch = 1
	}
	size := len(episodes) / maxClustersToSearch
	if size < 10 {
		size = 10
	}
	if size > len(episodes) {
		size = len(episodes)
	}
	return episodes[:size]
}

// similarityScore computes the four-level combined score from spec.md §4.7.
func similarityScore(ep *types.Episode, q RetrievalQuery, wTemp float64, now time.Time, episodeEmbedding []float32) float64 {
	l1 := levelScore(q.Domain != "", ep.Context.Domain == q.Domain)
	l2 := levelScore(q.TaskType != "", ep.TaskType == q.TaskType)
	l3 := recencyLevel(ep.StartTime, now)
	l4 := similarityLevel(ep, q, episodeEmbedding)

	wSim := 1 - wTemp - 0.6
	if wSim < 0.1 {
		wSim = 0.1
	}
	return 0.3*l1 + 0.3*l2 + wTemp*l3 + wSim*l4
}

func levelScore(filterSet, matches bool) float64 {
	if !filterSet {
		return 0.5
	}
	if matches {
		return 1
	}
	return 0
}

func recencyLevel(start time.Time, now time.Time) float64 {
	ageSeconds := now.Sub(start).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	ratio := ageSeconds / (30 * 24 * 3600)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

func similarityLevel(ep *types.Episode, q RetrievalQuery, episodeEmbedding []float32) float64 {
	if len(q.QueryEmbedding) > 0 && len(episodeEmbedding) > 0 {
		cos := cosineSimilarity(q.QueryEmbedding, episodeEmbedding)
		return (cos + 1) / 2
	}
	return jaccardSimilarity(q.QueryText, ep.TaskDescription)
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccardSimilarity(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = struct{}{}
	}
	return out
}

// MMR re-ranks a scored candidate list to maximize diversity, per
// spec.md §4.7: iteratively pick argmax(lambda*relevance -
// (1-lambda)*max_similarity_to_already_picked), where similarity
// between two episodes reuses the unweighted features.Vector distance.
func MMR(ctx context.Context, backend EpisodeGetter, candidates []ScoredEpisode, k int, lambda float64) []ScoredEpisode {
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	vectors := make(map[string]features.Vector, len(candidates))
	for _, c := range candidates {
		ep, err := backend.GetEpisode(ctx, c.EpisodeID)
		if err != nil {
			continue
		}
		vectors[c.EpisodeID] = features.Build(ep)
	}

	remaining := append([]ScoredEpisode(nil), candidates...)
	var picked []ScoredEpisode

	for len(picked) < k && len(remaining) > 0 {
		bestIdx := -1
		bestValue := math.Inf(-1)

		for i, cand := range remaining {
			maxSim := 0.0
			for _, p := range picked {
				sim := episodeSimilarity(vectors[cand.EpisodeID], vectors[p.EpisodeID])
				if sim > maxSim {
					maxSim = sim
				}
			}
			value := lambda*cand.Score - (1-lambda)*maxSim
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return picked
}

// episodeSimilarity converts the unweighted feature distance into a
// [0,1] similarity.
func episodeSimilarity(a, b features.Vector) float64 {
	d := features.WeightedEuclideanDistance(a, b, nil)
	maxD := features.MaxDistance()
	if maxD == 0 {
		return 0
	}
	sim := 1 - d/maxD
	if sim < 0 {
		sim = 0
	}
	return sim
}
