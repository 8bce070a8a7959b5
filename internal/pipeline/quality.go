package pipeline

import "github.com/cliairmonitor/epimem/internal/types"

// QualityScore computes the [0,1] score gating pattern/heuristic
// extraction, per spec.md §4.3 stage 1: a blend of step count,
// successful-step ratio, outcome kind, and a small domain-signal bonus
// for episodes that carry a recognized domain/tag.
func QualityScore(ep *types.Episode) float64 {
	stepScore := stepCountScore(len(ep.Steps))
	successScore := successRatioScore(ep)
	outcomeScore := outcomeScore(ep.Outcome)
	domainScore := domainSignalScore(ep)

	score := 0.3*stepScore + 0.35*successScore + 0.25*outcomeScore + 0.1*domainScore
	return clamp01(score)
}

// stepCountScore rewards episodes with enough steps to say something
// about process, saturating at 10 steps.
func stepCountScore(n int) float64 {
	if n <= 0 {
		return 0
	}
	s := float64(n) / 10.0
	return clamp01(s)
}

func successRatioScore(ep *types.Episode) float64 {
	if len(ep.Steps) == 0 {
		return 0.5
	}
	return float64(ep.SuccessfulStepsCount()) / float64(len(ep.Steps))
}

func outcomeScore(o *types.TaskOutcome) float64 {
	if o == nil {
		return 0
	}
	switch o.Kind {
	case types.OutcomeSuccess:
		return 1.0
	case types.OutcomePartialSuccess:
		return 0.5
	default:
		return 0.1
	}
}

// domainSignalScore gives episodes that carry a domain and at least
// one tag a small bonus, reflecting that they are more likely to be
// useful retrieval context later.
func domainSignalScore(ep *types.Episode) float64 {
	score := 0.0
	if ep.Context.Domain != "" {
		score += 0.5
	}
	if len(ep.Context.Tags) > 0 {
		score += 0.5
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
