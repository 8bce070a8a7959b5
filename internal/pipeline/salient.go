package pipeline

import (
	"fmt"

	"github.com/cliairmonitor/epimem/internal/types"
)

// ExtractSalientFeatures implements spec.md §4.3 stage 2: critical
// decisions, tool combinations, error-recovery evidence, and key
// insights, derived directly from the step sequence. Episodes with
// fewer than two steps carry no extractable structure and return nil.
func ExtractSalientFeatures(ep *types.Episode) *types.SalientFeatures {
	if len(ep.Steps) < 2 {
		return nil
	}

	return &types.SalientFeatures{
		CriticalDecisions:     criticalDecisions(ep),
		ToolCombinations:      toolCombinations(ep),
		ErrorRecoveryPatterns: errorRecoveryPatterns(ep),
		KeyInsights:           keyInsights(ep),
	}
}

// criticalDecisions flags steps with a non-empty Action whose result
// outcome differs from the step before it, i.e. turning points.
func criticalDecisions(ep *types.Episode) []string {
	var out []string
	for i := range ep.Steps {
		s := &ep.Steps[i]
		if s.Action == "" {
			continue
		}
		if i > 0 && ep.Steps[i-1].IsSuccess() == s.IsSuccess() {
			continue
		}
		out = append(out, fmt.Sprintf("step %d: %s (%s)", s.StepNumber, s.Action, outcomeLabel(s)))
	}
	return out
}

func outcomeLabel(s *types.ExecutionStep) string {
	if s.IsSuccess() {
		return "succeeded"
	}
	if s.Result.IsError() {
		return "failed"
	}
	return "pending"
}

// toolCombinations records every distinct consecutive pair of tools,
// the minimal unit PatternToolSequence extraction later re-aggregates
// across many episodes.
func toolCombinations(ep *types.Episode) [][]string {
	seen := make(map[string]bool)
	var out [][]string
	for i := 1; i < len(ep.Steps); i++ {
		a, b := ep.Steps[i-1].Tool, ep.Steps[i].Tool
		if a == "" || b == "" {
			continue
		}
		key := a + ">" + b
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, []string{a, b})
	}
	return out
}

// errorRecoveryPatterns summarizes each error-then-success transition
// as a short human-readable string.
func errorRecoveryPatterns(ep *types.Episode) []string {
	var out []string
	for i := 1; i < len(ep.Steps); i++ {
		if ep.Steps[i-1].Result.IsError() && ep.Steps[i].IsSuccess() {
			out = append(out, fmt.Sprintf("recovered from %s error via %s", ep.Steps[i-1].Tool, ep.Steps[i].Tool))
		}
	}
	return out
}

// keyInsights summarizes success ratio, tool diversity, and the
// episode's domain/complexity, capped at the same ~5-item budget the
// reflection stage uses.
func keyInsights(ep *types.Episode) []string {
	var out []string

	ratio := successRatioScore(ep)
	out = append(out, fmt.Sprintf("success ratio %.0f%% over %d steps", ratio*100, len(ep.Steps)))

	distinct := distinctTools(ep)
	out = append(out, fmt.Sprintf("%d distinct tools used", len(distinct)))

	if ep.Context.Domain != "" {
		out = append(out, fmt.Sprintf("executed in domain %q at %s complexity", ep.Context.Domain, ep.Context.Complexity))
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func distinctTools(ep *types.Episode) map[string]struct{} {
	m := make(map[string]struct{})
	for i := range ep.Steps {
		if ep.Steps[i].Tool != "" {
			m[ep.Steps[i].Tool] = struct{}{}
		}
	}
	return m
}
