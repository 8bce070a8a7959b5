// Package pipeline implements the post-completion learning stages run
// once an episode transitions to Completed, per spec.md §4.3. Each
// compute-only stage (quality, salient extraction, reward, reflection,
// pattern/heuristic extraction) lives here; the storage-touching
// stages (capacity enforcement, summarization, spatiotemporal index
// update, cache invalidation) are driven by internal/engine, which has
// the backend handles this package intentionally does not depend on.
package pipeline

import (
	"log"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/pipeline/heuristic"
	"github.com/cliairmonitor/epimem/internal/pipeline/pattern"
	"github.com/cliairmonitor/epimem/internal/types"
)

// StageFailures counts how many times each named stage has failed,
// for the engine to fold into pipeline_stage_failures{stage} metrics.
type StageFailures map[string]int

// Result collects everything the compute stages produced for one
// episode completion.
type Result struct {
	QualityScore   float64
	QualityGated   bool // true if extraction stages were skipped
	SalientFeatures *types.SalientFeatures
	Reward         *types.Reward
	Reflection     *types.Reflection
	Patterns       []*types.Pattern
	Heuristics     []*types.Heuristic
	Failures       StageFailures
}

// Run executes stages 1-6 of spec.md §4.3 against a completed
// episode. It never panics: any stage that would fail on malformed
// input instead logs, records the failure, and yields a zero value so
// later stages still run, per the fault-isolation requirement.
func Run(ep *types.Episode, cfg *config.MemoryConfig, now time.Time) *Result {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}

	res := &Result{Failures: StageFailures{}}

	res.QualityScore = safeFloat("quality", res.Failures, func() float64 {
		return QualityScore(ep)
	})
	res.QualityGated = res.QualityScore < cfg.QualityThreshold

	res.SalientFeatures = safeSalient("salient", res.Failures, func() *types.SalientFeatures {
		return ExtractSalientFeatures(ep)
	})
	ep.SalientFeatures = res.SalientFeatures

	if !res.QualityGated {
		res.Patterns = safePatterns("pattern_extraction", res.Failures, func() []*types.Pattern {
			return pattern.Extract(ep, cfg)
		})
		res.Heuristics = safeHeuristics("heuristic_extraction", res.Failures, func() []*types.Heuristic {
			return heuristic.Extract(ep, now)
		})
	} else {
		log.Printf("[PIPELINE] episode %s below quality threshold (%.2f < %.2f); skipping pattern/heuristic extraction",
			ep.EpisodeID, res.QualityScore, cfg.QualityThreshold)
	}

	res.Reward = safeReward("reward", res.Failures, func() *types.Reward {
		return CalculateReward(ep, len(res.Patterns) > 0)
	})
	ep.Reward = res.Reward

	res.Reflection = safeReflection("reflection", res.Failures, func() *types.Reflection {
		return GenerateReflection(ep)
	})
	ep.Reflection = res.Reflection

	return res
}

func safeFloat(stage string, failures StageFailures, fn func() float64) (out float64) {
	defer recoverStage(stage, failures)
	return fn()
}

func safeSalient(stage string, failures StageFailures, fn func() *types.SalientFeatures) (out *types.SalientFeatures) {
	defer recoverStage(stage, failures)
	return fn()
}

func safeReward(stage string, failures StageFailures, fn func() *types.Reward) (out *types.Reward) {
	defer recoverStage(stage, failures)
	return fn()
}

func safeReflection(stage string, failures StageFailures, fn func() *types.Reflection) (out *types.Reflection) {
	defer recoverStage(stage, failures)
	return fn()
}

func safePatterns(stage string, failures StageFailures, fn func() []*types.Pattern) (out []*types.Pattern) {
	defer recoverStage(stage, failures)
	return fn()
}

func safeHeuristics(stage string, failures StageFailures, fn func() []*types.Heuristic) (out []*types.Heuristic) {
	defer recoverStage(stage, failures)
	return fn()
}

func recoverStage(stage string, failures StageFailures) {
	if r := recover(); r != nil {
		log.Printf("[PIPELINE] stage %q panicked: %v", stage, r)
		failures[stage]++
	}
}
