package pipeline

import (
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

// CalculateReward implements spec.md §4.3 stage 3's deterministic
// reward formula. learningBonusApplies should be true when this
// completion produced at least one new pattern.
func CalculateReward(ep *types.Episode, learningBonusApplies bool) *types.Reward {
	base := rewardBase(ep.Outcome)
	efficiency := rewardEfficiency(ep)
	complexityBonus := rewardComplexityBonus(ep.Context.Complexity)
	qualityMultiplier := rewardQualityMultiplier(ep)

	learningBonus := 0.0
	if learningBonusApplies {
		learningBonus = 0.1
	}

	total := base*efficiency*complexityBonus*qualityMultiplier + learningBonus
	if total < 0 {
		total = 0
	}
	if total > 2 {
		total = 2
	}

	return &types.Reward{
		Base:              base,
		Efficiency:        efficiency,
		ComplexityBonus:   complexityBonus,
		QualityMultiplier: qualityMultiplier,
		LearningBonus:     learningBonus,
		Total:             total,
	}
}

func rewardBase(o *types.TaskOutcome) float64 {
	if o == nil {
		return 0.0
	}
	switch o.Kind {
	case types.OutcomeSuccess:
		return 1.0
	case types.OutcomePartialSuccess:
		return 0.5
	default:
		return 0.0
	}
}

// rewardEfficiency rewards fewer steps and shorter duration, capping
// the multiplier at 1.5 so a fast trivial task cannot dominate reward.
func rewardEfficiency(ep *types.Episode) float64 {
	steps := len(ep.Steps)
	if steps == 0 {
		return 1.0
	}

	stepFactor := 1.0
	switch {
	case steps <= 5:
		stepFactor = 1.2
	case steps <= 15:
		stepFactor = 1.0
	case steps <= 30:
		stepFactor = 0.8
	default:
		stepFactor = 0.6
	}

	durationFactor := 1.0
	if d, ok := ep.Duration(); ok {
		durationFactor = durationEfficiencyFactor(d)
	}

	factor := (stepFactor + durationFactor) / 2.0
	if factor > 1.5 {
		factor = 1.5
	}
	if factor < 0.3 {
		factor = 0.3
	}
	return factor
}

func durationEfficiencyFactor(d time.Duration) float64 {
	switch {
	case d < time.Minute:
		return 1.3
	case d < 5*time.Minute:
		return 1.0
	case d < 30*time.Minute:
		return 0.8
	default:
		return 0.5
	}
}

func rewardComplexityBonus(c types.ComplexityLevel) float64 {
	switch c {
	case types.ComplexityComplex:
		return 1.3
	case types.ComplexityModerate:
		return 1.1
	default:
		return 1.0
	}
}

// rewardQualityMultiplier reuses the same quality score the pipeline's
// gate computes, rescaled to a [0.5, 1.5] multiplier so a low-quality
// episode still earns something but a high-quality one is boosted.
func rewardQualityMultiplier(ep *types.Episode) float64 {
	q := QualityScore(ep)
	return 0.5 + q
}
