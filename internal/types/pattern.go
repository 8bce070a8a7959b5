package types

import (
	"math"
	"time"
)

// PatternKind tags which Pattern variant is populated.
type PatternKind string

const (
	PatternToolSequence  PatternKind = "tool_sequence"
	PatternDecisionPoint PatternKind = "decision_point"
	PatternErrorRecovery PatternKind = "error_recovery"
)

// Effectiveness tracks how a pattern performs once it starts being
// retrieved and applied. Score() implements the weighted formula from
// spec.md §3: 40% success rate, 30% application rate, 20% recency with
// a 30-day half-life, 10% confidence-with-usage.
type Effectiveness struct {
	RetrievalCount   int       `json:"retrieval_count"`
	ApplicationCount int       `json:"application_count"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastUsed         time.Time `json:"last_used"`
}

const halfLifeDays = 30.0

// Score computes the derived effectiveness score in [0,1].
func (e *Effectiveness) Score(now time.Time) float64 {
	if e == nil {
		return 0
	}

	totalOutcomes := e.SuccessCount + e.FailureCount
	successRate := 0.5
	if totalOutcomes > 0 {
		successRate = float64(e.SuccessCount) / float64(totalOutcomes)
	}

	applicationRate := 0.0
	if e.RetrievalCount > 0 {
		applicationRate = float64(e.ApplicationCount) / float64(e.RetrievalCount)
		if applicationRate > 1 {
			applicationRate = 1
		}
	}

	recency := 0.0
	if !e.LastUsed.IsZero() {
		ageDays := now.Sub(e.LastUsed).Hours() / 24.0
		if ageDays < 0 {
			ageDays = 0
		}
		recency = halfLifeDecay(ageDays)
	}

	confidence := confidenceWithUsage(totalOutcomes)

	score := 0.4*successRate + 0.3*applicationRate + 0.2*recency + 0.1*confidence
	return clamp01(score)
}

// halfLifeDecay returns 0.5^(ageDays/halfLifeDays), i.e. exponential
// decay that halves every 30 days.
func halfLifeDecay(ageDays float64) float64 {
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// confidenceWithUsage grows from 0 toward 1 as usage accumulates,
// saturating around 20 observed outcomes.
func confidenceWithUsage(totalOutcomes int) float64 {
	if totalOutcomes <= 0 {
		return 0
	}
	c := float64(totalOutcomes) / 20.0
	return clamp01(c)
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

// Pattern is a recurring structure extracted from episodes: a tool
// sequence, a decision point, or an error-recovery procedure.
type Pattern struct {
	ID   string      `json:"id"`
	Kind PatternKind `json:"kind"`

	// ToolSequence
	Tools          []string `json:"tools,omitempty"`
	OccurrenceCount int     `json:"occurrence_count,omitempty"`
	AvgLatencyMs    float64 `json:"avg_latency_ms,omitempty"`

	// DecisionPoint
	Condition    string         `json:"condition,omitempty"`
	Action       string         `json:"action,omitempty"`
	OutcomeStats map[string]int `json:"outcome_stats,omitempty"`

	// ErrorRecovery
	ErrorType     string   `json:"error_type,omitempty"`
	RecoverySteps []string `json:"recovery_steps,omitempty"`

	// Shared
	Context      Context       `json:"context"`
	SuccessRate  float64       `json:"success_rate"`
	Effectiveness Effectiveness `json:"effectiveness"`
}

// Heuristic is a conditional rule distilled from episodes with
// evidence and a confidence score.
type Heuristic struct {
	HeuristicID string            `json:"heuristic_id"`
	Condition   string            `json:"condition"`
	Action      string            `json:"action"`
	Confidence  float64           `json:"confidence"`
	Evidence    HeuristicEvidence `json:"evidence"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HeuristicEvidence is the supporting data behind a heuristic's
// confidence score.
type HeuristicEvidence struct {
	SupportingEpisodes []string `json:"supporting_episodes"`
	SuccessRate        float64  `json:"success_rate"`
	SampleSize         int      `json:"sample_size"`
}

// UpdateConfidence applies the online running-mean update rule chosen
// in SPEC_FULL.md §9.2: confidence moves toward the observed outcome
// by 1/(sample_size+1), then the sample size grows by one. episodeID
// is appended to Evidence.SupportingEpisodes, per spec.md §3's
// evidence model, unless it is already recorded there.
func (h *Heuristic) UpdateConfidence(episodeID string, observedSuccess bool) {
	observed := 0.0
	if observedSuccess {
		observed = 1.0
		h.Evidence.SuccessRate = (h.Evidence.SuccessRate*float64(h.Evidence.SampleSize) + 1) / float64(h.Evidence.SampleSize+1)
	} else {
		h.Evidence.SuccessRate = (h.Evidence.SuccessRate * float64(h.Evidence.SampleSize)) / float64(h.Evidence.SampleSize+1)
	}
	h.Confidence = h.Confidence + (observed-h.Confidence)/float64(h.Evidence.SampleSize+1)
	h.Evidence.SampleSize++
	h.UpdatedAt = time.Now()

	if episodeID != "" {
		for _, id := range h.Evidence.SupportingEpisodes {
			if id == episodeID {
				return
			}
		}
		h.Evidence.SupportingEpisodes = append(h.Evidence.SupportingEpisodes, episodeID)
	}
}

// RelationshipType enumerates how two episodes relate to each other.
type RelationshipType string

const (
	RelationshipDependsOn   RelationshipType = "depends_on"
	RelationshipFollowedBy  RelationshipType = "followed_by"
	RelationshipSimilar     RelationshipType = "similar"
	RelationshipContradicts RelationshipType = "contradicts"
)

// EpisodeRelationship is a weak, ID-only link between two episodes.
type EpisodeRelationship struct {
	ID            string           `json:"id"`
	FromEpisodeID string           `json:"from_episode_id"`
	ToEpisodeID   string           `json:"to_episode_id"`
	Type          RelationshipType `json:"type"`
	Priority      int              `json:"priority"`
	CreatedAt     time.Time        `json:"created_at"`
}

// RelationshipDirection selects which side of a relationship to query.
type RelationshipDirection string

const (
	DirectionIn   RelationshipDirection = "in"
	DirectionOut  RelationshipDirection = "out"
	DirectionBoth RelationshipDirection = "both"
)

// Embedding is a dense vector tagged with the item it describes.
type Embedding struct {
	ItemID string    `json:"item_id"`
	Vector []float32 `json:"vector"`
}

// DimensionBucket routes an embedding to a storage bucket by dimension,
// per spec.md §3.
func DimensionBucket(dim int) string {
	switch dim {
	case 384, 1024, 1536, 3072:
		return bucketName(dim)
	default:
		return "other"
	}
}

func bucketName(dim int) string {
	switch dim {
	case 384:
		return "384"
	case 1024:
		return "1024"
	case 1536:
		return "1536"
	case 3072:
		return "3072"
	default:
		return "other"
	}
}
