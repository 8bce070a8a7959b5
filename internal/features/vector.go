// Package features builds the engineered episode feature vector shared
// by the DBSCAN anomaly detector (spec.md §4.5) and the MMR diversity
// maximizer (spec.md §4.7), so both compute "similarity between two
// episodes" the same way instead of drifting apart.
package features

import (
	"hash/fnv"
	"math"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/types"
)

// taskTypeOrder fixes the one-hot dimension order for TaskType.
var taskTypeOrder = [...]types.TaskType{
	types.TaskCodeGeneration,
	types.TaskDebugging,
	types.TaskRefactoring,
	types.TaskTesting,
	types.TaskAnalysis,
	types.TaskDocumentation,
	types.TaskOther,
}

// Vector is the engineered feature representation of one episode:
// normalized/hashed context, log-scaled step count and duration, and
// one-hot outcome/task_type groups, per spec.md §4.5.
type Vector struct {
	Context   float64
	StepCount float64
	Duration  float64
	Outcome   [3]float64
	TaskType  [len(taskTypeOrder)]float64
}

// Build engineers a Vector from an episode.
func Build(ep *types.Episode) Vector {
	v := Vector{
		Context:   hashContext(ep.Context),
		StepCount: logScale(len(ep.Steps)),
	}

	if d, ok := ep.Duration(); ok {
		v.Duration = logScale(int(d.Seconds()))
	}

	if ep.Outcome != nil {
		switch ep.Outcome.Kind {
		case types.OutcomeSuccess:
			v.Outcome[0] = 1
		case types.OutcomePartialSuccess:
			v.Outcome[1] = 1
		case types.OutcomeFailure:
			v.Outcome[2] = 1
		}
	}

	for i, tt := range taskTypeOrder {
		if ep.TaskType == tt {
			v.TaskType[i] = 1
			break
		}
	}

	return v
}

// hashContext reduces domain+language+framework+complexity to a
// stable scalar in [0,1]. FNV is stdlib and more than sufficient for a
// non-adversarial clustering feature; no pack library targets this.
func hashContext(c types.Context) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(c.Domain + "|" + c.Language + "|" + c.Framework + "|" + string(c.Complexity)))
	return float64(h.Sum32()) / float64(math.MaxUint32)
}

// logScale squashes an unbounded non-negative count into [0,1] via
// log1p, then a rough normalization against a generous upper bound (a
// 10,000-step or 10,000-second episode saturates the scale).
func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	v := math.Log1p(float64(n)) / math.Log1p(10000)
	if v > 1 {
		return 1
	}
	return v
}

// WeightedEuclideanDistance computes the weighted Euclidean distance
// between two feature vectors per spec.md §4.5. Passing nil weights is
// equivalent to all-1.0 weights, used by the MMR diversity pass which
// needs the same feature space "without weights".
func WeightedEuclideanDistance(a, b Vector, weights *config.DBSCANFeatureWeights) float64 {
	w := weights
	if w == nil {
		w = &config.DBSCANFeatureWeights{Context: 1, StepCount: 1, Duration: 1, Outcome: 1, TaskType: 1}
	}

	sum := w.Context * sq(a.Context-b.Context)
	sum += w.StepCount * sq(a.StepCount-b.StepCount)
	sum += w.Duration * sq(a.Duration-b.Duration)

	var outcomeDiff, taskTypeDiff float64
	for i := range a.Outcome {
		outcomeDiff += sq(a.Outcome[i] - b.Outcome[i])
	}
	for i := range a.TaskType {
		taskTypeDiff += sq(a.TaskType[i] - b.TaskType[i])
	}
	sum += w.Outcome * outcomeDiff
	sum += w.TaskType * taskTypeDiff

	return math.Sqrt(sum)
}

func sq(x float64) float64 { return x * x }

// MaxDistance is a loose upper bound on WeightedEuclideanDistance with
// unit weights, used to normalize a distance into a [0,1] similarity
// by callers such as the MMR pass.
func MaxDistance() float64 {
	// Context, StepCount, Duration each contribute at most 1^2; Outcome
	// and TaskType one-hot groups contribute at most 2 each (one bit
	// flips from 1 to 0, the other from 0 to 1).
	return math.Sqrt(1 + 1 + 1 + 2 + 2)
}
