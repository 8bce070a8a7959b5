// Package types holds the data model shared across the memory engine:
// episodes, steps, outcomes, patterns, heuristics, relationships and
// embeddings. It has no dependencies on storage or retrieval so every
// other package can import it without cycles.
package types

import "time"

// ComplexityLevel classifies how involved a task is expected to be.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

// TaskType classifies the kind of work an episode represents.
type TaskType string

const (
	TaskCodeGeneration TaskType = "code_generation"
	TaskDebugging      TaskType = "debugging"
	TaskRefactoring    TaskType = "refactoring"
	TaskTesting        TaskType = "testing"
	TaskAnalysis       TaskType = "analysis"
	TaskDocumentation  TaskType = "documentation"
	TaskOther          TaskType = "other"
)

// Context describes the situation an episode ran in.
type Context struct {
	Domain     string          `json:"domain"`
	Language   string          `json:"language,omitempty"`
	Framework  string          `json:"framework,omitempty"`
	Complexity ComplexityLevel `json:"complexity"`
	Tags       []string        `json:"tags,omitempty"`
}

// OutcomeKind tags which variant of TaskOutcome is populated.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomePartialSuccess OutcomeKind = "partial_success"
	OutcomeFailure        OutcomeKind = "failure"
)

// TaskOutcome is a tagged union over the three ways an episode can end.
// Only the fields matching Kind are meaningful.
type TaskOutcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success / PartialSuccess
	Verdict   string   `json:"verdict,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`

	// PartialSuccess
	Completed []string `json:"completed,omitempty"`
	Failed    []string `json:"failed,omitempty"`

	// Failure
	Reason       string `json:"reason,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// IsSuccessLike reports whether the outcome counts as at least a
// partial success for reward/quality purposes.
func (o *TaskOutcome) IsSuccessLike() bool {
	return o != nil && (o.Kind == OutcomeSuccess || o.Kind == OutcomePartialSuccess)
}

// ExecutionResultKind tags which variant of ExecutionResult is populated.
type ExecutionResultKind string

const (
	ResultSuccess ExecutionResultKind = "success"
	ResultError   ExecutionResultKind = "error"
	ResultNone    ExecutionResultKind = "none"
)

// ExecutionResult is the outcome of a single step.
type ExecutionResult struct {
	Kind    ExecutionResultKind `json:"kind"`
	Output  string              `json:"output,omitempty"`
	Message string              `json:"message,omitempty"`
}

// IsSuccess reports whether the step's result was a success.
func (r *ExecutionResult) IsSuccess() bool {
	return r != nil && r.Kind == ResultSuccess
}

// IsError reports whether the step's result was an error.
func (r *ExecutionResult) IsError() bool {
	return r != nil && r.Kind == ResultError
}

// ExecutionStep is one tool invocation within an episode.
type ExecutionStep struct {
	StepNumber int               `json:"step_number"`
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Action     string            `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Result     *ExecutionResult  `json:"result,omitempty"`
	LatencyMs  int64             `json:"latency_ms"`
	TokensUsed *int64            `json:"tokens_used,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IsSuccess mirrors the original source's Step::is_success helper used
// throughout reflection/pattern extraction.
func (s *ExecutionStep) IsSuccess() bool {
	return s.Result.IsSuccess()
}

// SalientFeatures are the PREMem annotations produced before storage.
type SalientFeatures struct {
	CriticalDecisions    []string   `json:"critical_decisions,omitempty"`
	ToolCombinations     [][]string `json:"tool_combinations,omitempty"`
	ErrorRecoveryPatterns []string  `json:"error_recovery_patterns,omitempty"`
	KeyInsights          []string   `json:"key_insights,omitempty"`
}

// Count returns the total number of salient items extracted, used by
// the RelevanceWeighted capacity policy's quality score.
func (s *SalientFeatures) Count() int {
	if s == nil {
		return 0
	}
	return len(s.CriticalDecisions) + len(s.ToolCombinations) + len(s.ErrorRecoveryPatterns) + len(s.KeyInsights)
}

// Reward is the deterministic numeric score assigned to a completed episode.
type Reward struct {
	Base             float64 `json:"base"`
	Efficiency       float64 `json:"efficiency"`
	ComplexityBonus  float64 `json:"complexity_bonus"`
	QualityMultiplier float64 `json:"quality_multiplier"`
	LearningBonus    float64 `json:"learning_bonus"`
	Total            float64 `json:"total"`
}

// Reflection is the textual output of the reflection stage.
type Reflection struct {
	Successes    []string `json:"successes,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
	Insights     []string `json:"insights,omitempty"`
}

// ArchivedAtMetadataKey is the reserved metadata key toggled by
// archive/restore. It is the only key mutable after an episode completes.
const ArchivedAtMetadataKey = "archived_at"

// EpisodeSummary is the compressed, semantic-summarization output of
// pipeline stage 8: a 100-200 word prose summary plus the episode's
// most important steps.
type EpisodeSummary struct {
	EpisodeID string    `json:"episode_id"`
	Summary   string    `json:"summary"`
	KeySteps  []string  `json:"key_steps,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode is the unit of learning: one task execution from start to
// outcome, including steps and learning annotations.
type Episode struct {
	EpisodeID       string          `json:"episode_id"`
	TaskDescription string          `json:"task_description"`
	Context         Context         `json:"context"`
	TaskType        TaskType        `json:"task_type"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Steps           []ExecutionStep `json:"steps"`
	Outcome         *TaskOutcome    `json:"outcome,omitempty"`

	SalientFeatures *SalientFeatures `json:"salient_features,omitempty"`
	Reward          *Reward          `json:"reward,omitempty"`
	Reflection      *Reflection      `json:"reflection,omitempty"`
	Patterns        []string         `json:"patterns,omitempty"`
	Heuristics      []string         `json:"heuristics,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsComplete reports whether the episode has a recorded outcome.
func (e *Episode) IsComplete() bool {
	return e.Outcome != nil
}

// IsArchived reports whether the episode carries the reserved
// archived_at metadata key.
func (e *Episode) IsArchived() bool {
	_, ok := e.Metadata[ArchivedAtMetadataKey]
	return ok
}

// SuccessfulStepsCount counts steps whose result was a success.
func (e *Episode) SuccessfulStepsCount() int {
	n := 0
	for i := range e.Steps {
		if e.Steps[i].IsSuccess() {
			n++
		}
	}
	return n
}

// Duration returns the episode's wall-clock duration, or false if the
// episode has not completed.
func (e *Episode) Duration() (time.Duration, bool) {
	if e.EndTime == nil {
		return 0, false
	}
	return e.EndTime.Sub(e.StartTime), true
}

// EffectiveEndTime returns EndTime if set, else StartTime, matching the
// "end_time.unwrap_or(start_time)" rule used by LRU eviction ordering.
func (e *Episode) EffectiveEndTime() time.Time {
	if e.EndTime != nil {
		return *e.EndTime
	}
	return e.StartTime
}

// Clone returns a deep-enough copy for use as an in-memory fallback
// entry so callers mutating a returned Episode cannot corrupt engine state.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Steps = append([]ExecutionStep(nil), e.Steps...)
	if e.Outcome != nil {
		outcome := *e.Outcome
		clone.Outcome = &outcome
	}
	if e.EndTime != nil {
		end := *e.EndTime
		clone.EndTime = &end
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.Patterns = append([]string(nil), e.Patterns...)
	clone.Heuristics = append([]string(nil), e.Heuristics...)
	return &clone
}
