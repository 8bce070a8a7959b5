// Package storage defines the uniform StorageBackend interface
// (spec.md §4.1) implemented by the durable SQL backend
// (internal/storage/durable) and the embedded binary-cache backend
// (internal/storage/embedded), and wired together by internal/engine's
// dual-backend write path.
package storage

import (
	"context"
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

// EpisodeFilter narrows ListEpisodes results. Zero values mean "no
// filter on this field". The durable backend applies Domain, TaskType,
// Since, Until, Limit and Offset; the embedded backend applies Domain
// and TaskType only. Neither backend applies Outcome, Tag or
// IncludeArchived.
type EpisodeFilter struct {
	Domain     string
	TaskType   types.TaskType
	Outcome    types.OutcomeKind
	Tag        string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
	IncludeArchived bool
}

// Backend is the storage-agnostic contract every backend implements.
// Implementations must be safe for concurrent use.
type Backend interface {
	StoreEpisode(ctx context.Context, ep *types.Episode) error
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)
	DeleteEpisode(ctx context.Context, id string) error
	ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]*types.Episode, error)
	CountEpisodes(ctx context.Context, domain string) (int, error)

	StorePattern(ctx context.Context, p *types.Pattern) error
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
	ListPatterns(ctx context.Context, domain string) ([]*types.Pattern, error)
	DeletePattern(ctx context.Context, id string) error

	StoreHeuristic(ctx context.Context, h *types.Heuristic) error
	GetHeuristic(ctx context.Context, id string) (*types.Heuristic, error)
	ListHeuristics(ctx context.Context, domain string) ([]*types.Heuristic, error)

	StoreEmbedding(ctx context.Context, episodeID string, emb *types.Embedding) error
	GetEmbedding(ctx context.Context, episodeID string, dim int) (*types.Embedding, error)

	StoreRelationship(ctx context.Context, rel *types.EpisodeRelationship) error
	ListRelationships(ctx context.Context, episodeID string) ([]*types.EpisodeRelationship, error)

	StoreEpisodeSummary(ctx context.Context, s *types.EpisodeSummary) error
	GetEpisodeSummary(ctx context.Context, episodeID string) (*types.EpisodeSummary, error)

	Close() error
}

// SizeCapper is implemented by backends that enforce hard per-record
// size limits (the embedded backend, per spec.md §4.1.b). Callers that
// need to know whether a record was rejected for being oversized
// rather than for some other storage failure get an *errors.Error of
// Kind errors.KindStorage whose message says the payload exceeds the
// maximum size.
type SizeCapper interface {
	MaxEpisodeSize() int64
	MaxPatternSize() int64
	MaxHeuristicSize() int64
	MaxEmbeddingSize() int64
}
