package engine

import (
	"context"
	"log"
	"time"

	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/spatiotemporal"
	"github.com/cliairmonitor/epimem/internal/types"
)

// RetrieveRelevantContext runs the hierarchical spatiotemporal
// retriever plus MMR diversity re-ranking over the episode index, per
// spec.md §4.7. queryText is embedded via the configured provider when
// present; a nil/absent provider falls back to text similarity alone.
func (e *Engine) RetrieveRelevantContext(ctx context.Context, queryText, domain string, taskType types.TaskType, k int, mmrLambda float64) ([]*types.Episode, error) {
	q := spatiotemporal.RetrievalQuery{
		QueryText: queryText,
		Domain:    domain,
		TaskType:  taskType,
	}

	if e.embeddingProvider != nil && queryText != "" {
		vec, err := e.embeddingProvider.Embed(ctx, queryText)
		if err != nil {
			log.Printf("[ENGINE] query embedding failed, falling back to text similarity: %v", err)
		} else {
			q.QueryEmbedding = vec
		}
	}

	cacheKey := spatiotemporal.Key(q, k, 0)
	if cached, ok := e.retrievalCache.Get(cacheKey); ok {
		return e.resolveEpisodes(ctx, cached)
	}

	started := time.Now()
	backend := e.retrievalBackend()
	embeddingsByEpisode := e.collectEmbeddings(ctx, q.QueryEmbedding)

	scored, err := e.retriever.Retrieve(ctx, backend, q, k, started, embeddingsByEpisode)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "retrieval failed", err)
	}

	diverse := spatiotemporal.MMR(ctx, backend, scored, k, mmrLambda)
	e.retrievalCache.Put(cacheKey, q, diverse)
	e.metrics.ObserveRetrievalLatency(float64(time.Since(started).Microseconds()) / 1000.0)

	return e.resolveEpisodes(ctx, diverse)
}

// retrievalBackend prefers the durable backend (authoritative,
// complete history) and falls back to the embedded cache.
func (e *Engine) retrievalBackend() spatiotemporal.EpisodeGetter {
	if e.durable != nil {
		return e.durable
	}
	return e.embedded
}

// collectEmbeddings fetches the query vector's dimension bucket for
// every episode the index currently knows about, best-effort: a
// missing embedding for an episode just falls back to text similarity
// for that one candidate, per Retrieve's documented contract.
func (e *Engine) collectEmbeddings(ctx context.Context, queryVec []float32) map[string][]float32 {
	if len(queryVec) == 0 {
		return nil
	}
	backend := e.durable
	if backend == nil {
		backend = e.embedded
	}
	if backend == nil {
		return nil
	}

	dim := len(queryVec)
	out := make(map[string][]float32)
	for _, id := range e.index.AllEpisodeIDs() {
		emb, err := backend.GetEmbedding(ctx, id, dim)
		if err != nil {
			continue
		}
		out[id] = emb.Vector
	}
	return out
}

func (e *Engine) resolveEpisodes(ctx context.Context, scored []spatiotemporal.ScoredEpisode) ([]*types.Episode, error) {
	out := make([]*types.Episode, 0, len(scored))
	for _, s := range scored {
		ep, err := e.GetEpisode(ctx, s.EpisodeID)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// RetrieveRelevantPatterns returns the patterns extracted for domain,
// most recent first, trimmed to limit.
func (e *Engine) RetrieveRelevantPatterns(ctx context.Context, domain string, limit int) ([]*types.Pattern, error) {
	backend := e.durable
	if backend == nil {
		backend = e.embedded
	}
	if backend == nil {
		return nil, nil
	}
	patterns, err := backend.ListPatterns(ctx, domain)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "failed to list patterns", err)
	}
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}

// RetrieveRelevantHeuristics returns the heuristics learned for
// domain, most confident first, trimmed to limit.
func (e *Engine) RetrieveRelevantHeuristics(ctx context.Context, domain string, limit int) ([]*types.Heuristic, error) {
	backend := e.durable
	if backend == nil {
		backend = e.embedded
	}
	if backend == nil {
		return nil, nil
	}
	heuristics, err := backend.ListHeuristics(ctx, domain)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "failed to list heuristics", err)
	}
	if limit > 0 && len(heuristics) > limit {
		heuristics = heuristics[:limit]
	}
	return heuristics, nil
}

// UpdateHeuristicConfidence applies the online running-mean update
// rule (types.Heuristic.UpdateConfidence) from a fresh usage outcome,
// recording episodeID as supporting evidence, and persists the result
// to both backends. Matches spec.md §4.2's
// update_heuristic_confidence(heuristic_id, episode_id, outcome).
func (e *Engine) UpdateHeuristicConfidence(ctx context.Context, heuristicID string, episodeID string, success bool) error {
	backend := e.durable
	if backend == nil {
		backend = e.embedded
	}
	if backend == nil {
		return errors.New(errors.KindStorage, "no backend configured").WithID(heuristicID)
	}

	h, err := backend.GetHeuristic(ctx, heuristicID)
	if err != nil {
		return errors.Wrap(errors.KindNotFound, "heuristic not found", err).WithID(heuristicID)
	}
	h.UpdateConfidence(episodeID, success)

	if e.embedded != nil && e.embedded != backend {
		if err := e.embedded.StoreHeuristic(ctx, h); err != nil {
			log.Printf("[ENGINE] cache write failed for heuristic %s: %v", heuristicID, err)
		}
	}
	if err := backend.StoreHeuristic(ctx, h); err != nil {
		return errors.Wrap(errors.KindStorage, "failed to persist heuristic update", err).WithID(heuristicID)
	}
	return nil
}
