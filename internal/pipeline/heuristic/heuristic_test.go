package heuristic

import (
	"testing"
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

func TestExtractProducesContextAndToolChoiceHeuristics(t *testing.T) {
	ep := &types.Episode{
		EpisodeID: "ep-1",
		Context:   types.Context{Domain: "web-api", Complexity: types.ComplexityModerate},
		TaskType:  types.TaskDebugging,
		Steps: []types.ExecutionStep{
			{StepNumber: 1, Tool: "read_file", Result: &types.ExecutionResult{Kind: types.ResultSuccess}},
		},
		Outcome: &types.TaskOutcome{Kind: types.OutcomeSuccess},
	}

	got := Extract(ep, time.Now())
	if len(got) != 2 {
		t.Fatalf("expected 2 heuristics (context + tool choice), got %d: %+v", len(got), got)
	}
	for _, h := range got {
		if h.Confidence < MinConfidence {
			t.Errorf("heuristic %q below MinConfidence slipped through filter", h.Condition)
		}
	}
}

func TestExtractReturnsNilWithoutOutcome(t *testing.T) {
	ep := &types.Episode{EpisodeID: "ep-1", Context: types.Context{Domain: "web-api"}}
	if got := Extract(ep, time.Now()); got != nil {
		t.Fatalf("expected nil without an outcome, got %v", got)
	}
}

func TestSameRuleMatchesConditionAndAction(t *testing.T) {
	a := &types.Heuristic{Condition: "x", Action: "y"}
	b := &types.Heuristic{Condition: "x", Action: "y"}
	c := &types.Heuristic{Condition: "x", Action: "z"}

	if !SameRule(a, b) {
		t.Errorf("expected matching condition+action to be the same rule")
	}
	if SameRule(a, c) {
		t.Errorf("expected differing action to not be the same rule")
	}
}

func TestUpdateConfidenceIntegration(t *testing.T) {
	h := &types.Heuristic{Confidence: 0.5, Evidence: types.HeuristicEvidence{SampleSize: 1, SuccessRate: 1.0}}
	h.UpdateConfidence("ep-2", false)
	if h.Evidence.SampleSize != 2 {
		t.Fatalf("expected sample size 2, got %d", h.Evidence.SampleSize)
	}
	if h.Confidence >= 0.5 {
		t.Fatalf("expected confidence to move down after an observed failure, got %v", h.Confidence)
	}
	if len(h.Evidence.SupportingEpisodes) != 1 || h.Evidence.SupportingEpisodes[0] != "ep-2" {
		t.Fatalf("expected episode ep-2 recorded as supporting evidence, got %v", h.Evidence.SupportingEpisodes)
	}

	h.UpdateConfidence("ep-2", true)
	if len(h.Evidence.SupportingEpisodes) != 1 {
		t.Fatalf("expected duplicate episode id not to be appended again, got %v", h.Evidence.SupportingEpisodes)
	}
}
