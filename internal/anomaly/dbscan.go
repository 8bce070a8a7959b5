// Package anomaly implements the DBSCAN-based episode anomaly
// detector described in spec.md §4.5: engineered episode features,
// weighted Euclidean distance, density-based clustering, and the
// resulting cluster/anomaly/stats report.
package anomaly

import (
	"math"
	"sort"

	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/features"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Result is the DBSCAN detector's output for one batch of episodes.
type Result struct {
	Clusters           []Cluster
	Anomalies          []string
	TotalPoints        int
	AnomalyCount       int
	AvgAnomalyDistance float64
	MaxAnomalyDistance float64
	Iterations         int
}

// Cluster is a dense group of episode IDs.
type Cluster struct {
	EpisodeIDs []string
}

const (
	unvisited = 0
	noise     = -1
)

// Detect runs DBSCAN over episodes per spec.md §4.5, including the
// documented edge cases: 0 episodes returns an empty Result, and a
// single episode is always reported as its own anomaly (there can be
// no neighbors to form a cluster with).
func Detect(episodes []*types.Episode, cfg *config.DBSCANConfig) Result {
	if cfg == nil {
		cfg = config.DefaultDBSCANConfig()
	}

	if len(episodes) == 0 {
		return Result{}
	}
	if len(episodes) == 1 {
		return Result{
			Anomalies:    []string{episodes[0].EpisodeID},
			TotalPoints:  1,
			AnomalyCount: 1,
			Iterations:   1,
		}
	}

	vectors := make([]features.Vector, len(episodes))
	for i, ep := range episodes {
		vectors[i] = features.Build(ep)
	}

	eps := cfg.Eps
	if cfg.AdaptiveEps {
		eps = adaptiveEps(vectors, cfg)
	}

	labels := make([]int, len(episodes)) // 0=unvisited, -1=noise, >0=cluster id
	clusterID := 0
	iterations := 0

	for i := range episodes {
		if labels[i] != unvisited {
			continue
		}
		iterations++

		neighbors := regionQuery(vectors, i, eps, cfg)
		if len(neighbors) < cfg.MinSamples {
			labels[i] = noise
			continue
		}

		clusterID++
		labels[i] = clusterID
		expandCluster(vectors, labels, neighbors, clusterID, eps, cfg)
	}

	res := buildResult(episodes, vectors, labels, clusterID, cfg, eps)
	res.Iterations = iterations

	assert.Always(res.TotalPoints == len(episodes), "anomaly: total points matches input size", map[string]any{
		"input":  len(episodes),
		"result": res.TotalPoints,
	})
	return res
}

// regionQuery returns the indices within eps of point i, weighted per
// cfg.FeatureWeights.
func regionQuery(vectors []features.Vector, i int, eps float64, cfg *config.DBSCANConfig) []int {
	var out []int
	for j := range vectors {
		if i == j {
			out = append(out, j)
			continue
		}
		if features.WeightedEuclideanDistance(vectors[i], vectors[j], &cfg.FeatureWeights) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// expandCluster grows clusterID outward from neighbors, reassigning
// any point previously marked noise and visiting each new core point's
// own neighborhood.
func expandCluster(vectors []features.Vector, labels []int, neighbors []int, clusterID int, eps float64, cfg *config.DBSCANConfig) {
	queue := append([]int(nil), neighbors...)

	for idx := 0; idx < len(queue); idx++ {
		j := queue[idx]
		if labels[j] == noise {
			labels[j] = clusterID
			continue
		}
		if labels[j] != unvisited {
			continue
		}

		labels[j] = clusterID
		jNeighbors := regionQuery(vectors, j, eps, cfg)
		if len(jNeighbors) >= cfg.MinSamples {
			queue = append(queue, jNeighbors...)
		}
	}
}

// buildResult assembles clusters honoring min_cluster_size (clusters
// smaller than the configured minimum are demoted to anomalies) and
// computes anomaly distance stats against each anomaly's nearest
// remaining cluster centroid-ish neighbor (here, its nearest point
// overall that is not itself an anomaly).
func buildResult(episodes []*types.Episode, vectors []features.Vector, labels []int, clusterID int, cfg *config.DBSCANConfig, eps float64) Result {
	byCluster := make(map[int][]int)
	for i, l := range labels {
		if l > 0 {
			byCluster[l] = append(byCluster[l], i)
		}
	}

	var clusters []Cluster
	var anomalyIdx []int
	for id := 1; id <= clusterID; id++ {
		members := byCluster[id]
		if len(members) < cfg.MinClusterSize {
			anomalyIdx = append(anomalyIdx, members...)
			continue
		}
		ids := make([]string, len(members))
		for i, idx := range members {
			ids[i] = episodes[idx].EpisodeID
		}
		sort.Strings(ids)
		clusters = append(clusters, Cluster{EpisodeIDs: ids})
	}
	for i, l := range labels {
		if l == noise {
			anomalyIdx = append(anomalyIdx, i)
		}
	}

	sort.Ints(anomalyIdx)
	anomalies := make([]string, len(anomalyIdx))
	for i, idx := range anomalyIdx {
		anomalies[i] = episodes[idx].EpisodeID
	}

	var sumDist, maxDist float64
	for _, idx := range anomalyIdx {
		d := nearestNonAnomalyDistance(vectors, idx, anomalyIdx, cfg)
		sumDist += d
		if d > maxDist {
			maxDist = d
		}
	}
	avgDist := 0.0
	if len(anomalyIdx) > 0 {
		avgDist = sumDist / float64(len(anomalyIdx))
	}

	return Result{
		Clusters:           clusters,
		Anomalies:          anomalies,
		TotalPoints:        len(episodes),
		AnomalyCount:       len(anomalies),
		AvgAnomalyDistance: avgDist,
		MaxAnomalyDistance: maxDist,
	}
}

func nearestNonAnomalyDistance(vectors []features.Vector, idx int, anomalyIdx []int, cfg *config.DBSCANConfig) float64 {
	isAnomaly := make(map[int]bool, len(anomalyIdx))
	for _, a := range anomalyIdx {
		isAnomaly[a] = true
	}

	min := math.Inf(1)
	for j := range vectors {
		if j == idx || isAnomaly[j] {
			continue
		}
		d := features.WeightedEuclideanDistance(vectors[idx], vectors[j], &cfg.FeatureWeights)
		if d < min {
			min = d
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// adaptiveEps estimates eps from the distribution of each point's
// distance to its MinSamples-th nearest neighbor (the standard
// k-distance-graph heuristic), taking the median of those distances.
func adaptiveEps(vectors []features.Vector, cfg *config.DBSCANConfig) float64 {
	k := cfg.MinSamples
	if k < 1 {
		k = 1
	}
	if k > len(vectors)-1 {
		k = len(vectors) - 1
	}
	if k < 1 {
		return cfg.Eps
	}

	kDistances := make([]float64, len(vectors))
	for i := range vectors {
		dists := make([]float64, 0, len(vectors)-1)
		for j := range vectors {
			if i == j {
				continue
			}
			dists = append(dists, features.WeightedEuclideanDistance(vectors[i], vectors[j], &cfg.FeatureWeights))
		}
		sort.Float64s(dists)
		kDistances[i] = dists[k-1]
	}

	sort.Float64s(kDistances)
	return median(kDistances)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
