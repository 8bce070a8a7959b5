package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cliairmonitor/epimem/internal/pipeline"
	"github.com/cliairmonitor/epimem/internal/pipeline/heuristic"
	"github.com/cliairmonitor/epimem/internal/pipeline/pattern"
	"github.com/cliairmonitor/epimem/internal/storage"
	"github.com/cliairmonitor/epimem/internal/types"
)

// runPipeline executes the full post-completion pipeline from spec.md
// §4.3: stages 1-6 (internal/pipeline.Run, compute-only) followed by
// the storage-touching stages 7-10 this package owns because it alone
// holds the backend and index handles those stages need. Every stage
// is fault-isolated: a failure is logged and counted, never aborts
// later stages, matching the rest of the pipeline's contract.
func (e *Engine) runPipeline(ctx context.Context, ep *types.Episode, now time.Time) *pipeline.Result {
	result := pipeline.Run(ep, e.cfg, now)

	e.learnPatternsAndHeuristics(ctx, ep, result)
	e.enforceCapacity(ctx, ep, now, result.Failures)
	e.summarize(ctx, ep, result.Failures)
	e.updateSpatiotemporalIndex(ep, result.Failures)
	e.invalidateRetrievalCache(ep, result.Failures)

	return result
}

// learnPatternsAndHeuristics is pipeline stages 5-6's persistence half:
// pattern.Extract and heuristic.Extract (run inside pipeline.Run) only
// compute candidates, per their documented contract that the caller
// merges-and-persists them. This merges result.Patterns/result.Heuristics
// against whatever is already stored for the episode's domain, using the
// same DedupKey/SameRule identity the compute stages document, and
// persists the merged rows to both backends, recording the resulting
// IDs on the episode.
func (e *Engine) learnPatternsAndHeuristics(ctx context.Context, ep *types.Episode, result *pipeline.Result) {
	defer recoverPipelineStage("pattern_heuristic_learning", result.Failures)

	if len(result.Patterns) == 0 && len(result.Heuristics) == 0 {
		return
	}

	backend := e.durable
	if backend == nil {
		backend = e.embedded
	}
	if backend == nil {
		return
	}

	e.learnPatterns(ctx, ep, backend, result.Patterns)
	e.learnHeuristics(ctx, ep, backend, result.Heuristics)
}

func (e *Engine) learnPatterns(ctx context.Context, ep *types.Episode, backend storage.Backend, fresh []*types.Pattern) {
	if len(fresh) == 0 {
		return
	}

	existing, err := backend.ListPatterns(ctx, ep.Context.Domain)
	if err != nil {
		log.Printf("[ENGINE] listing patterns for domain %s failed: %v", ep.Context.Domain, err)
		existing = nil
	}
	byKey := make(map[string]*types.Pattern, len(existing))
	for _, p := range existing {
		byKey[pattern.DedupKey(p)] = p
	}

	for _, p := range fresh {
		key := pattern.DedupKey(p)
		target := p
		if matched, ok := byKey[key]; ok {
			pattern.Merge(matched, p)
			target = matched
		} else {
			byKey[key] = p
		}

		if err := e.storePatternBothBackends(ctx, backend, target); err != nil {
			log.Printf("[ENGINE] storing pattern %s failed: %v", target.ID, err)
			continue
		}
		appendUniqueID(&ep.Patterns, target.ID)
	}
}

func (e *Engine) learnHeuristics(ctx context.Context, ep *types.Episode, backend storage.Backend, fresh []*types.Heuristic) {
	if len(fresh) == 0 {
		return
	}

	existing, err := backend.ListHeuristics(ctx, ep.Context.Domain)
	if err != nil {
		log.Printf("[ENGINE] listing heuristics for domain %s failed: %v", ep.Context.Domain, err)
		existing = nil
	}

	for _, h := range fresh {
		target := h
		for _, candidate := range existing {
			if heuristic.SameRule(candidate, h) {
				candidate.UpdateConfidence(ep.EpisodeID, h.Evidence.SuccessRate >= 1.0)
				target = candidate
				break
			}
		}

		if err := e.storeHeuristicBothBackends(ctx, backend, target); err != nil {
			log.Printf("[ENGINE] storing heuristic %s failed: %v", target.HeuristicID, err)
			continue
		}
		appendUniqueID(&ep.Heuristics, target.HeuristicID)
	}
}

func (e *Engine) storePatternBothBackends(ctx context.Context, authoritative storage.Backend, p *types.Pattern) error {
	if e.embedded != nil && e.embedded != authoritative {
		if err := e.embedded.StorePattern(ctx, p); err != nil {
			log.Printf("[ENGINE] cache write failed for pattern %s: %v", p.ID, err)
			e.metrics.IncBackendWriteFailure("embedded")
		}
	}
	return authoritative.StorePattern(ctx, p)
}

func (e *Engine) storeHeuristicBothBackends(ctx context.Context, authoritative storage.Backend, h *types.Heuristic) error {
	if e.embedded != nil && e.embedded != authoritative {
		if err := e.embedded.StoreHeuristic(ctx, h); err != nil {
			log.Printf("[ENGINE] cache write failed for heuristic %s: %v", h.HeuristicID, err)
			e.metrics.IncBackendWriteFailure("embedded")
		}
	}
	return authoritative.StoreHeuristic(ctx, h)
}

// appendUniqueID appends id to *ids unless it is already present.
func appendUniqueID(ids *[]string, id string) {
	for _, existing := range *ids {
		if existing == id {
			return
		}
	}
	*ids = append(*ids, id)
}

// enforceCapacity is pipeline stage 7: if max_episodes is configured,
// compute the eviction set and delete victims from all backends.
func (e *Engine) enforceCapacity(ctx context.Context, ep *types.Episode, now time.Time, failures pipeline.StageFailures) {
	defer recoverPipelineStage("capacity_enforcement", failures)

	if e.cfg.MaxEpisodes == nil {
		return
	}

	e.mu.RLock()
	all := make([]*types.Episode, 0, len(e.episodes))
	for _, other := range e.episodes {
		all = append(all, other)
	}
	e.mu.RUnlock()

	victims := e.capacityMgr.Evict(all, *e.cfg.MaxEpisodes, now)
	for _, id := range victims {
		if id == ep.EpisodeID {
			continue // never evict the episode that just triggered enforcement
		}
		if err := e.DeleteEpisode(ctx, id); err != nil {
			log.Printf("[ENGINE] capacity eviction failed for episode %s: %v", id, err)
		}
	}
}

// summarize is pipeline stage 8: compress the episode into a prose
// summary plus key steps, stored via the durable backend.
func (e *Engine) summarize(ctx context.Context, ep *types.Episode, failures pipeline.StageFailures) {
	defer recoverPipelineStage("summarization", failures)

	if !e.cfg.EnableSummarization || e.durable == nil {
		return
	}

	summary := &types.EpisodeSummary{
		EpisodeID: ep.EpisodeID,
		Summary:   buildSummaryText(ep),
		KeySteps:  keySteps(ep, e.cfg.MaxKeySteps),
		CreatedAt: time.Now(),
	}
	if err := e.durable.StoreEpisodeSummary(ctx, summary); err != nil {
		log.Printf("[ENGINE] episode summary storage failed for %s: %v", ep.EpisodeID, err)
	}
}

// buildSummaryText produces a deterministic 100-200 word-class prose
// summary. spec.md §9 leaves the exact summarization algorithm
// unspecified beyond the target length; this renders the episode's
// outcome, domain, and reflection into a short paragraph rather than
// calling an LLM, keeping summarization synchronous and side-effect
// free.
func buildSummaryText(ep *types.Episode) string {
	var b strings.Builder
	b.WriteString("Episode ")
	b.WriteString(ep.EpisodeID)
	b.WriteString(" (")
	b.WriteString(string(ep.TaskType))
	b.WriteString(" in domain ")
	b.WriteString(ep.Context.Domain)
	b.WriteString(") ran ")
	b.WriteString(ep.TaskDescription)
	b.WriteString(" across ")
	b.WriteString(itoa(len(ep.Steps)))
	b.WriteString(" steps with ")
	b.WriteString(itoa(ep.SuccessfulStepsCount()))
	b.WriteString(" successful. ")

	if ep.Outcome != nil {
		b.WriteString("Outcome: ")
		b.WriteString(string(ep.Outcome.Kind))
		if ep.Outcome.Verdict != "" {
			b.WriteString(" - ")
			b.WriteString(ep.Outcome.Verdict)
		}
		if ep.Outcome.Reason != "" {
			b.WriteString(" - ")
			b.WriteString(ep.Outcome.Reason)
		}
		b.WriteString(". ")
	}

	if ep.Reflection != nil {
		for _, insight := range ep.Reflection.Insights {
			b.WriteString(insight)
			b.WriteString(". ")
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// keySteps picks up to maxKeySteps representative step descriptions,
// preferring steps with a non-empty Action (the same signal
// internal/pipeline's reflection stage uses for "successes").
func keySteps(ep *types.Episode, maxKeySteps int) []string {
	if maxKeySteps <= 0 {
		maxKeySteps = 10
	}
	var out []string
	for _, s := range ep.Steps {
		if s.Action == "" {
			continue
		}
		out = append(out, s.Tool+": "+s.Action)
		if len(out) >= maxKeySteps {
			break
		}
	}
	return out
}

// updateSpatiotemporalIndex is pipeline stage 9.
func (e *Engine) updateSpatiotemporalIndex(ep *types.Episode, failures pipeline.StageFailures) {
	defer recoverPipelineStage("spatiotemporal_index", failures)
	e.index.InsertEpisode(ep)
}

// invalidateRetrievalCache is pipeline stage 10.
func (e *Engine) invalidateRetrievalCache(ep *types.Episode, failures pipeline.StageFailures) {
	defer recoverPipelineStage("retrieval_cache_invalidation", failures)
	e.retrievalCache.InvalidateEpisode(ep.Context.Domain, string(ep.TaskType))
}

func recoverPipelineStage(stage string, failures pipeline.StageFailures) {
	if r := recover(); r != nil {
		log.Printf("[ENGINE] stage %q panicked: %v", stage, r)
		failures[stage]++
	}
}
