// Package heuristic extracts conditional rules with supporting
// evidence from a completed episode, per spec.md §4.3 stage 6.
package heuristic

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cliairmonitor/epimem/internal/types"
)

// MinConfidence is the drop threshold: rules below this confidence
// after their initial evidence pass are discarded rather than stored.
const MinConfidence = 0.3

// Extract proposes heuristics from one episode's outcome and context.
// Each proposal starts with a single supporting episode and a
// confidence derived directly from that one observation; the caller
// is expected to look up any existing heuristic with the same
// Condition/Action and call UpdateConfidence on it instead of storing
// a fresh one, per spec.md §4.2's update_heuristic_confidence.
func Extract(ep *types.Episode, now time.Time) []*types.Heuristic {
	if ep.Outcome == nil {
		return nil
	}

	success := ep.Outcome.IsSuccessLike()
	var out []*types.Heuristic

	if h := contextHeuristic(ep, success, now); h != nil {
		out = append(out, h)
	}
	if h := toolChoiceHeuristic(ep, success, now); h != nil {
		out = append(out, h)
	}

	filtered := out[:0]
	for _, h := range out {
		if h.Confidence >= MinConfidence {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// contextHeuristic proposes "in domain X with complexity Y, outcome
// tends to be success/failure", the coarsest and most broadly
// applicable rule shape.
func contextHeuristic(ep *types.Episode, success bool, now time.Time) *types.Heuristic {
	if ep.Context.Domain == "" {
		return nil
	}

	// "<domain>: ..." is the grouping convention internal/storage/durable
	// expects for domain-scoped heuristic listing (domainFromCondition).
	condition := fmt.Sprintf("%s: complexity=%s task_type=%s", ep.Context.Domain, ep.Context.Complexity, ep.TaskType)
	action := "expect_success"
	confidence := 0.5
	successRate := 0.0
	if success {
		confidence = 0.6
		successRate = 1.0
	} else {
		confidence = 0.4
	}

	return &types.Heuristic{
		HeuristicID: uuid.New().String(),
		Condition:   condition,
		Action:      action,
		Confidence:  confidence,
		Evidence: types.HeuristicEvidence{
			SupportingEpisodes: []string{ep.EpisodeID},
			SuccessRate:        successRate,
			SampleSize:         1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// toolChoiceHeuristic proposes "when the first tool used is X, prefer
// it again", grounded on whichever tool led a successful episode.
func toolChoiceHeuristic(ep *types.Episode, success bool, now time.Time) *types.Heuristic {
	if !success || len(ep.Steps) == 0 || ep.Steps[0].Tool == "" {
		return nil
	}

	firstTool := ep.Steps[0].Tool
	condition := fmt.Sprintf("%s: task_type=%s first_action_needed", ep.Context.Domain, ep.TaskType)
	action := "prefer_tool:" + firstTool

	return &types.Heuristic{
		HeuristicID: uuid.New().String(),
		Condition:   condition,
		Action:      action,
		Confidence:  0.55,
		Evidence: types.HeuristicEvidence{
			SupportingEpisodes: []string{ep.EpisodeID},
			SuccessRate:        1.0,
			SampleSize:         1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SameRule reports whether two heuristics represent the same
// condition/action pair, used by the caller to decide whether to
// merge via UpdateConfidence instead of storing a new row.
func SameRule(a, b *types.Heuristic) bool {
	return a.Condition == b.Condition && a.Action == b.Action
}
