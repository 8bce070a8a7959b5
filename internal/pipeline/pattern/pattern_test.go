package pattern

import (
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

func episodeWithRecovery() *types.Episode {
	return &types.Episode{
		EpisodeID: "ep-1",
		Context:   types.Context{Domain: "web-api", Complexity: types.ComplexityModerate},
		StartTime: time.Now(),
		Steps: []types.ExecutionStep{
			{StepNumber: 1, Tool: "read_file", Action: "inspect", Result: &types.ExecutionResult{Kind: types.ResultSuccess}},
			{StepNumber: 2, Tool: "run_tests", Action: "reproduce", Result: &types.ExecutionResult{Kind: types.ResultError, Message: "timeout waiting for server"}},
			{StepNumber: 3, Tool: "edit_file", Action: "patch", Result: &types.ExecutionResult{Kind: types.ResultSuccess}},
			{StepNumber: 4, Tool: "run_tests", Action: "confirm", Result: &types.ExecutionResult{Kind: types.ResultSuccess}},
		},
	}
}

func TestExtractProducesToolSequenceAndErrorRecovery(t *testing.T) {
	ep := episodeWithRecovery()
	cfg := config.DefaultMemoryConfig()
	cfg.SuccessThreshold = 0.5

	patterns := Extract(ep, cfg)
	var sawSequence, sawRecovery bool
	for _, p := range patterns {
		switch p.Kind {
		case types.PatternToolSequence:
			sawSequence = true
		case types.PatternErrorRecovery:
			sawRecovery = true
			if p.ErrorType != "timeout" {
				t.Errorf("expected timeout classification, got %q", p.ErrorType)
			}
		}
	}
	if !sawSequence {
		t.Errorf("expected a tool sequence pattern")
	}
	if !sawRecovery {
		t.Errorf("expected an error recovery pattern")
	}
}

func TestExtractSkipsWhenBelowMinSequenceLength(t *testing.T) {
	ep := episodeWithRecovery()
	ep.Steps = ep.Steps[:1]
	cfg := config.DefaultMemoryConfig()

	if patterns := Extract(ep, cfg); patterns != nil {
		t.Fatalf("expected nil for single-step episode, got %v", patterns)
	}
}

func TestExtractSkipsWhenSuccessRateBelowThreshold(t *testing.T) {
	ep := episodeWithRecovery()
	cfg := config.DefaultMemoryConfig()
	cfg.SuccessThreshold = 0.99 // 3/4 success rate is below this

	if patterns := Extract(ep, cfg); patterns != nil {
		t.Fatalf("expected nil below success threshold, got %v", patterns)
	}
}

func TestDedupMergesRepeatedToolSequenceAcrossCalls(t *testing.T) {
	a := &types.Pattern{ID: "a", Kind: types.PatternToolSequence, Tools: []string{"x", "y"}, OccurrenceCount: 1, SuccessRate: 1.0, Context: types.Context{Domain: "d"}}
	b := &types.Pattern{ID: "b", Kind: types.PatternToolSequence, Tools: []string{"x", "y"}, OccurrenceCount: 1, SuccessRate: 0.0, Context: types.Context{Domain: "d"}}

	merged := dedup([]*types.Pattern{a, b})
	if len(merged) != 1 {
		t.Fatalf("expected dedup to merge into 1 pattern, got %d", len(merged))
	}
	if merged[0].OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", merged[0].OccurrenceCount)
	}
	if merged[0].SuccessRate != 0.5 {
		t.Fatalf("expected averaged success rate 0.5, got %v", merged[0].SuccessRate)
	}
}
