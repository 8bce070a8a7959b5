// Package pattern extracts recurring structures (tool sequences,
// decision points, error-recovery procedures) from a completed
// episode's step history, per spec.md §4.3 stage 5.
package pattern

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Extract produces the candidate patterns for one episode. The caller
// is expected to merge these against existing patterns (dedup by
// (Kind, tools-or-condition, Context)) before persisting.
func Extract(ep *types.Episode, cfg *config.MemoryConfig) []*types.Pattern {
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}

	n := len(ep.Steps)
	if n < cfg.MinSequenceLength || n > cfg.MaxSequenceLength {
		return nil
	}
	if successRate(ep.Steps) < cfg.SuccessThreshold {
		return nil
	}

	var out []*types.Pattern
	out = append(out, toolSequences(ep)...)
	out = append(out, decisionPoints(ep)...)
	out = append(out, errorRecoveries(ep)...)

	return rank(dedup(out))
}

func successRate(steps []types.ExecutionStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	n := 0
	for i := range steps {
		if steps[i].IsSuccess() {
			n++
		}
	}
	return float64(n) / float64(len(steps))
}

// toolSequences groups consecutive tool invocations into a single
// ToolSequence pattern per episode, the same way a transcript of
// actual tool calls reads as a sequence.
func toolSequences(ep *types.Episode) []*types.Pattern {
	var tools []string
	var totalLatency int64
	for _, s := range ep.Steps {
		if s.Tool == "" {
			continue
		}
		tools = append(tools, s.Tool)
		totalLatency += s.LatencyMs
	}
	if len(tools) < 2 {
		return nil
	}

	avg := float64(totalLatency) / float64(len(tools))
	return []*types.Pattern{{
		ID:              uuid.New().String(),
		Kind:            types.PatternToolSequence,
		Tools:           tools,
		OccurrenceCount: 1,
		AvgLatencyMs:    avg,
		Context:         ep.Context,
		SuccessRate:     successRate(ep.Steps),
	}}
}

// decisionPoints treats every step with non-empty Action as a decision,
// conditioned on the preceding step's tool (or "start" for the first
// step), and records the outcome distribution.
func decisionPoints(ep *types.Episode) []*types.Pattern {
	var out []*types.Pattern
	prevTool := "start"
	for i := range ep.Steps {
		s := &ep.Steps[i]
		if s.Action == "" {
			prevTool = s.Tool
			continue
		}

		stats := map[string]int{"success": 0, "error": 0, "none": 0}
		switch {
		case s.Result.IsSuccess():
			stats["success"] = 1
		case s.Result.IsError():
			stats["error"] = 1
		default:
			stats["none"] = 1
		}

		out = append(out, &types.Pattern{
			ID:           uuid.New().String(),
			Kind:         types.PatternDecisionPoint,
			Condition:    "after:" + prevTool,
			Action:       s.Action,
			OutcomeStats: stats,
			Context:      ep.Context,
			SuccessRate:  boolToFloat(s.Result.IsSuccess()),
		})
		prevTool = s.Tool
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// errorRecoveries finds a step whose result errored followed by a
// later successful step using the same tool, and records the tools of
// every step after the error, up to and including that successful
// step, as the recovery procedure.
func errorRecoveries(ep *types.Episode) []*types.Pattern {
	var out []*types.Pattern
	for i := range ep.Steps {
		if !ep.Steps[i].Result.IsError() {
			continue
		}
		errTool := ep.Steps[i].Tool
		errMsg := ep.Steps[i].Result.Message

		for j := i + 1; j < len(ep.Steps); j++ {
			if ep.Steps[j].Tool != errTool {
				continue
			}
			if !ep.Steps[j].IsSuccess() {
				continue
			}

			var recovery []string
			for k := i + 1; k <= j; k++ {
				recovery = append(recovery, ep.Steps[k].Tool)
			}

			out = append(out, &types.Pattern{
				ID:            uuid.New().String(),
				Kind:          types.PatternErrorRecovery,
				ErrorType:     classifyError(errMsg),
				RecoverySteps: recovery,
				Context:       ep.Context,
				SuccessRate:   1.0,
			})
			break
		}
	}
	return out
}

// classifyError reduces a free-text error message to a coarse type tag
// used as the dedup/match key.
func classifyError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "permission") || strings.Contains(lower, "denied"):
		return "permission"
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return "not_found"
	case msg == "":
		return "unknown"
	default:
		return "other"
	}
}

// DedupKey identifies a pattern for the purposes of merging duplicates
// within and across episodes: variant + tools-or-condition + context.
// The engine's completion path uses this same key to merge freshly
// extracted patterns against ones already persisted for the domain.
func DedupKey(p *types.Pattern) string {
	var parts []string
	parts = append(parts, string(p.Kind))
	switch p.Kind {
	case types.PatternToolSequence:
		parts = append(parts, strings.Join(p.Tools, ">"))
	case types.PatternDecisionPoint:
		parts = append(parts, p.Condition, p.Action)
	case types.PatternErrorRecovery:
		parts = append(parts, p.ErrorType, strings.Join(p.RecoverySteps, ">"))
	}
	parts = append(parts, p.Context.Domain, string(p.Context.Complexity))
	return strings.Join(parts, "|")
}

// dedup merges patterns sharing a DedupKey, summing occurrence counts
// and averaging latency/success-rate.
func dedup(patterns []*types.Pattern) []*types.Pattern {
	byKey := make(map[string]*types.Pattern)
	var order []string

	for _, p := range patterns {
		key := DedupKey(p)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = p
			order = append(order, key)
			continue
		}
		Merge(existing, p)
	}

	out := make([]*types.Pattern, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// Merge folds src's occurrence count, latency, success rate, and
// outcome stats into dst in place. Exported so the engine's
// completion path can merge a freshly extracted pattern into one
// already persisted for the same domain.
func Merge(dst, src *types.Pattern) {
	total := dst.OccurrenceCount + src.OccurrenceCount
	if total == 0 {
		total = 1
	}
	dst.AvgLatencyMs = (dst.AvgLatencyMs*float64(dst.OccurrenceCount) + src.AvgLatencyMs*float64(src.OccurrenceCount)) / float64(total)
	dst.SuccessRate = (dst.SuccessRate*float64(dst.OccurrenceCount) + src.SuccessRate*float64(src.OccurrenceCount)) / float64(total)
	dst.OccurrenceCount = total
	if src.OutcomeStats != nil {
		if dst.OutcomeStats == nil {
			dst.OutcomeStats = make(map[string]int)
		}
		for k, v := range src.OutcomeStats {
			dst.OutcomeStats[k] += v
		}
	}
}

// rank orders patterns by success rate descending, then occurrence
// count descending, matching the "ranked by success rate and context
// match" requirement with context match expressed as a stable
// tie-break (patterns sharing a domain cluster together).
func rank(patterns []*types.Pattern) []*types.Pattern {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].SuccessRate != patterns[j].SuccessRate {
			return patterns[i].SuccessRate > patterns[j].SuccessRate
		}
		if patterns[i].OccurrenceCount != patterns[j].OccurrenceCount {
			return patterns[i].OccurrenceCount > patterns[j].OccurrenceCount
		}
		return patterns[i].Context.Domain < patterns[j].Context.Domain
	})
	return patterns
}
