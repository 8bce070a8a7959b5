// Package config defines the explicit configuration structs used
// across the memory engine, each with a Default constructor.
// MemoryConfig and AuditConfig also have a FromEnv constructor that
// tolerates malformed values by falling back to defaults with a logged
// warning — the same shape as the teacher's aider.Config /
// aider.LoadConfig / aider.Config.Validate trio. PoolConfig,
// RetrievalConfig, DBSCANConfig and PersistenceConfig have no FromEnv
// constructor and are not read from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// EvictionPolicy selects how the capacity manager chooses victims.
type EvictionPolicy string

const (
	EvictionLRU               EvictionPolicy = "lru"
	EvictionRelevanceWeighted EvictionPolicy = "relevance_weighted"
)

// MemoryConfig is the top-level configuration for the episode engine.
type MemoryConfig struct {
	MaxEpisodes         *int // nil = unlimited
	EvictionPolicy      EvictionPolicy
	EnableSummarization bool
	QualityThreshold    float64
	SuccessThreshold    float64
	MinSequenceLength   int
	MaxSequenceLength   int
	MaxKeySteps         int
	StepBufferSize      int
	StepBufferMaxAge    time.Duration
}

// DefaultMemoryConfig mirrors the numeric defaults documented in
// original_source/memory-core/src/constants.rs, translated to this
// engine's field names.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxEpisodes:         nil,
		EvictionPolicy:      EvictionRelevanceWeighted,
		EnableSummarization: true,
		QualityThreshold:    0.5,
		SuccessThreshold:    0.6,
		MinSequenceLength:   2,
		MaxSequenceLength:   50,
		MaxKeySteps:         10,
		StepBufferSize:      20,
		StepBufferMaxAge:    5 * time.Second,
	}
}

// MemoryConfigFromEnv reads MEMORY_* variables per spec.md §6, falling
// back to defaults (with a logged warning) on malformed values.
func MemoryConfigFromEnv() *MemoryConfig {
	cfg := DefaultMemoryConfig()

	if raw, ok := os.LookupEnv("MEMORY_MAX_EPISODES"); ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.MaxEpisodes = &n
		} else {
			log.Printf("[CONFIG] invalid MEMORY_MAX_EPISODES=%q, leaving unlimited", raw)
		}
	}

	if raw, ok := os.LookupEnv("MEMORY_EVICTION_POLICY"); ok && raw != "" {
		cfg.EvictionPolicy = parseEvictionPolicy(raw)
	}

	if raw, ok := os.LookupEnv("MEMORY_ENABLE_SUMMARIZATION"); ok && raw != "" {
		if b, err := parseBool(raw); err == nil {
			cfg.EnableSummarization = b
		} else {
			log.Printf("[CONFIG] invalid MEMORY_ENABLE_SUMMARIZATION=%q, using default %v", raw, cfg.EnableSummarization)
		}
	}

	return cfg
}

// parseEvictionPolicy accepts hyphens/camelCase/snake_case variants;
// anything unrecognized defaults to RelevanceWeighted per spec.md §6.
func parseEvictionPolicy(raw string) EvictionPolicy {
	normalized := strings.ToLower(strings.ReplaceAll(raw, "-", "_"))
	switch normalized {
	case "lru":
		return EvictionLRU
	case "relevance_weighted", "relevanceweighted":
		return EvictionRelevanceWeighted
	default:
		log.Printf("[CONFIG] unknown MEMORY_EVICTION_POLICY=%q, defaulting to relevance_weighted", raw)
		return EvictionRelevanceWeighted
	}
}

// parseBool accepts the case-insensitive boolean spellings required by spec.md §6.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, errInvalidBool
	}
}

var errInvalidBool = boolParseError("not a recognized boolean spelling")

type boolParseError string

func (e boolParseError) Error() string { return string(e) }
