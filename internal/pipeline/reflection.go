package pipeline

import (
	"fmt"

	"github.com/cliairmonitor/epimem/internal/types"
)

const reflectionCap = 5

// GenerateReflection implements spec.md §4.3 stage 4: successes,
// improvements, and insights, each capped at ~5 entries.
func GenerateReflection(ep *types.Episode) *types.Reflection {
	return &types.Reflection{
		Successes:    cap5(successes(ep)),
		Improvements: cap5(improvements(ep)),
		Insights:     cap5(insights(ep)),
	}
}

func cap5(items []string) []string {
	if len(items) > reflectionCap {
		return items[:reflectionCap]
	}
	return items
}

func successes(ep *types.Episode) []string {
	var out []string
	if ep.Outcome != nil && ep.Outcome.Kind == types.OutcomeSuccess {
		out = append(out, fmt.Sprintf("task completed: %s", ep.Outcome.Verdict))
	}
	for i := range ep.Steps {
		s := &ep.Steps[i]
		if s.IsSuccess() && s.Action != "" {
			out = append(out, fmt.Sprintf("step %d succeeded: %s", s.StepNumber, s.Action))
		}
	}
	return out
}

func improvements(ep *types.Episode) []string {
	var out []string
	if ep.Outcome != nil && ep.Outcome.Kind == types.OutcomeFailure {
		out = append(out, fmt.Sprintf("task failed: %s", ep.Outcome.Reason))
	}
	for i := range ep.Steps {
		s := &ep.Steps[i]
		if s.Result.IsError() {
			out = append(out, fmt.Sprintf("step %d errored on %s: %s", s.StepNumber, s.Tool, s.Result.Message))
		}
	}
	if lat, ok := latencyOutlier(ep); ok {
		out = append(out, fmt.Sprintf("step %d latency (%dms) is an outlier versus the episode average", lat.StepNumber, lat.LatencyMs))
	}
	return out
}

// insights derives observations from step patterns (success ratio),
// error-recovery presence, context, and tool diversity.
func insights(ep *types.Episode) []string {
	var out []string

	ratio := successRatioScore(ep)
	switch {
	case ratio == 1.0 && len(ep.Steps) > 0:
		out = append(out, "every step succeeded on the first attempt")
	case ratio < 0.5:
		out = append(out, fmt.Sprintf("less than half of %d steps succeeded on first attempt", len(ep.Steps)))
	}

	if hasErrorRecovery(ep) {
		out = append(out, "episode recovered from at least one tool error mid-run")
	}

	if ep.Context.Domain != "" {
		out = append(out, fmt.Sprintf("ran in domain %q at %s complexity", ep.Context.Domain, ep.Context.Complexity))
	}

	distinct := distinctTools(ep)
	if len(distinct) >= 3 {
		out = append(out, fmt.Sprintf("used %d distinct tools, indicating a varied approach", len(distinct)))
	}

	return out
}

func hasErrorRecovery(ep *types.Episode) bool {
	for i := 1; i < len(ep.Steps); i++ {
		if ep.Steps[i-1].Result.IsError() && ep.Steps[i].IsSuccess() {
			return true
		}
	}
	return false
}

// latencyOutlier flags the first step whose latency exceeds 3x the
// episode's mean step latency.
func latencyOutlier(ep *types.Episode) (*types.ExecutionStep, bool) {
	if len(ep.Steps) < 3 {
		return nil, false
	}

	var total int64
	for i := range ep.Steps {
		total += ep.Steps[i].LatencyMs
	}
	mean := float64(total) / float64(len(ep.Steps))
	if mean <= 0 {
		return nil, false
	}

	for i := range ep.Steps {
		if float64(ep.Steps[i].LatencyMs) > mean*3 {
			return &ep.Steps[i], true
		}
	}
	return nil, false
}
