package pipeline

import (
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

func successfulEpisode() *types.Episode {
	start := time.Now().Add(-2 * time.Minute)
	end := start.Add(90 * time.Second)
	return &types.Episode{
		EpisodeID:       "ep-1",
		TaskDescription: "fix the failing test",
		Context:         types.Context{Domain: "web-api", Complexity: types.ComplexityModerate, Tags: []string{"ci"}},
		TaskType:        types.TaskDebugging,
		StartTime:       start,
		EndTime:         &end,
		Steps: []types.ExecutionStep{
			{StepNumber: 1, Tool: "read_file", Action: "inspect test", Result: &types.ExecutionResult{Kind: types.ResultSuccess}, LatencyMs: 50},
			{StepNumber: 2, Tool: "run_tests", Action: "reproduce failure", Result: &types.ExecutionResult{Kind: types.ResultError, Message: "assertion failed"}, LatencyMs: 200},
			{StepNumber: 3, Tool: "edit_file", Action: "patch assertion", Result: &types.ExecutionResult{Kind: types.ResultSuccess}, LatencyMs: 80},
			{StepNumber: 4, Tool: "run_tests", Action: "confirm fix", Result: &types.ExecutionResult{Kind: types.ResultSuccess}, LatencyMs: 90},
		},
		Outcome: &types.TaskOutcome{Kind: types.OutcomeSuccess, Verdict: "tests pass"},
	}
}

func TestRunProducesRewardAndReflectionForSuccessfulEpisode(t *testing.T) {
	ep := successfulEpisode()
	res := Run(ep, config.DefaultMemoryConfig(), time.Now())

	if res.QualityGated {
		t.Fatalf("expected a well-formed successful episode to pass the quality gate, score=%v", res.QualityScore)
	}
	if res.Reward == nil || res.Reward.Total <= 0 {
		t.Fatalf("expected positive reward, got %+v", res.Reward)
	}
	if res.Reflection == nil || len(res.Reflection.Successes) == 0 {
		t.Fatalf("expected at least one recorded success, got %+v", res.Reflection)
	}
	if res.SalientFeatures == nil {
		t.Fatalf("expected salient features for a 4-step episode")
	}
	if len(res.Failures) != 0 {
		t.Fatalf("expected no stage failures, got %v", res.Failures)
	}
}

func TestRunSkipsExtractionBelowQualityThreshold(t *testing.T) {
	ep := &types.Episode{
		EpisodeID: "ep-trivial",
		StartTime: time.Now(),
		Outcome:   &types.TaskOutcome{Kind: types.OutcomeFailure, Reason: "gave up"},
	}

	cfg := config.DefaultMemoryConfig()
	res := Run(ep, cfg, time.Now())

	if !res.QualityGated {
		t.Fatalf("expected a zero-step failed episode to be gated, score=%v", res.QualityScore)
	}
	if len(res.Patterns) != 0 || len(res.Heuristics) != 0 {
		t.Fatalf("expected no patterns/heuristics when gated, got %d/%d", len(res.Patterns), len(res.Heuristics))
	}
}

func TestRunSkipsSalientExtractionUnderTwoSteps(t *testing.T) {
	ep := successfulEpisode()
	ep.Steps = ep.Steps[:1]

	res := Run(ep, config.DefaultMemoryConfig(), time.Now())
	if res.SalientFeatures != nil {
		t.Fatalf("expected nil salient features for a single-step episode, got %+v", res.SalientFeatures)
	}
}

func TestCalculateRewardClampedToTwo(t *testing.T) {
	ep := successfulEpisode()
	ep.Context.Complexity = types.ComplexityComplex
	r := CalculateReward(ep, true)
	if r.Total > 2 || r.Total < 0 {
		t.Fatalf("expected total in [0,2], got %v", r.Total)
	}
}
