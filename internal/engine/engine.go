// Package engine implements the episode lifecycle orchestrator from
// spec.md §4.2: the public start_episode/log_step/complete_episode API,
// the dual-backend (durable + embedded-cache) + in-memory-fallback
// write path from spec.md §4.9, and the storage-touching tail of the
// post-completion pipeline (capacity enforcement, semantic
// summarization, spatiotemporal index update, retrieval cache
// invalidation) that internal/pipeline deliberately leaves to the
// caller holding backend handles.
//
// Grounded on the teacher's internal/memory/operational.go method
// style (one method per operation) generalized to the three-tier write
// path spec.md §4.9 requires, and on cmd/cliairmonitor/main.go's
// component-wiring shape for New.
package engine

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/cliairmonitor/epimem/internal/capacity"
	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/embeddings"
	"github.com/cliairmonitor/epimem/internal/spatiotemporal"
	"github.com/cliairmonitor/epimem/internal/storage"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Metrics receives the counters spec.md §4.9/§7 calls for. A nil
// Metrics is replaced with a no-op implementation, matching the
// teacher's pattern of optional dependency-injected collaborators.
type Metrics interface {
	IncPipelineStageFailure(stage string)
	IncQualitySkipped()
	IncBackendWriteFailure(backend string)
	ObserveRetrievalLatency(milliseconds float64)
}

type noopMetrics struct{}

func (noopMetrics) IncPipelineStageFailure(string)        {}
func (noopMetrics) IncQualitySkipped()                    {}
func (noopMetrics) IncBackendWriteFailure(string)         {}
func (noopMetrics) ObserveRetrievalLatency(float64)       {}

// EventPublisher is notified of episode lifecycle events. internal/eventbus
// implements this over embedded NATS; nil disables publishing.
type EventPublisher interface {
	PublishEpisodeCompleted(ctx context.Context, ep *types.Episode)
	PublishAnomalyDetected(ctx context.Context, episodeIDs []string)
}

type noopPublisher struct{}

func (noopPublisher) PublishEpisodeCompleted(context.Context, *types.Episode) {}
func (noopPublisher) PublishAnomalyDetected(context.Context, []string)        {}

// episodeRecord tracks one episode's in-memory state alongside its
// step buffer and lifecycle state.
type episodeRecord struct {
	state  State
	buffer *stepBuffer
}

// Engine is the episode lifecycle orchestrator. All exported methods
// are safe for concurrent use.
type Engine struct {
	cfg *config.MemoryConfig

	durable  storage.Backend // authoritative; may be nil
	embedded storage.Backend // best-effort cache; may be nil

	index          *spatiotemporal.Index
	retriever      *spatiotemporal.Retriever
	retrievalCache *spatiotemporal.RetrievalCache
	capacityMgr    *capacity.Manager

	embeddingProvider embeddings.Provider // optional

	metrics   Metrics
	publisher EventPublisher

	mu       sync.RWMutex
	episodes map[string]*types.Episode
	records  map[string]*episodeRecord
}

// Options bundles Engine's optional collaborators.
type Options struct {
	MemoryConfig      *config.MemoryConfig
	RetrievalConfig   *config.RetrievalConfig
	Durable           storage.Backend
	Embedded          storage.Backend
	EmbeddingProvider embeddings.Provider
	Metrics           Metrics
	Publisher         EventPublisher
}

// New builds an Engine. A nil Durable/Embedded backend is tolerated:
// writes to a missing backend are simply skipped, matching spec.md
// §4.9's "in-memory copy remains authoritative" fallback.
func New(opts Options) *Engine {
	cfg := opts.MemoryConfig
	if cfg == nil {
		cfg = config.DefaultMemoryConfig()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}

	index := spatiotemporal.New()
	return &Engine{
		cfg:               cfg,
		durable:           opts.Durable,
		embedded:          opts.Embedded,
		index:             index,
		retriever:         spatiotemporal.NewRetriever(index, opts.RetrievalConfig),
		retrievalCache:    spatiotemporal.NewRetrievalCache(opts.RetrievalConfig),
		capacityMgr:       capacity.New(cfg.EvictionPolicy),
		embeddingProvider: opts.EmbeddingProvider,
		metrics:           metrics,
		publisher:         publisher,
		episodes:          make(map[string]*types.Episode),
		records:           make(map[string]*episodeRecord),
	}
}

// Close releases the retrieval cache's background cleanup goroutine.
// Backends are owned by the caller and are not closed here.
func (e *Engine) Close() {
	e.retrievalCache.Close()
}

func newEpisodeID() string {
	return uuid.New().String()
}

// writeBothBestEffort persists ep to the embedded cache and durable
// backend, in that order, per spec.md §5's ordering guarantee. Cache
// failures are always best-effort (warn-logged, ignored); durable
// failures are best-effort here too — callers in complete_episode
// escalate the durable failure themselves after this returns, per
// spec.md §4.9's distinct behavior for that call site.
func (e *Engine) writeBothBestEffort(ctx context.Context, ep *types.Episode) (durableErr error) {
	if e.embedded != nil {
		if err := e.embedded.StoreEpisode(ctx, ep); err != nil {
			log.Printf("[ENGINE] cache write failed for episode %s: %v", ep.EpisodeID, err)
			e.metrics.IncBackendWriteFailure("embedded")
		}
	}
	if e.durable != nil {
		if err := e.durable.StoreEpisode(ctx, ep); err != nil {
			log.Printf("[ENGINE] durable write failed for episode %s: %v", ep.EpisodeID, err)
			e.metrics.IncBackendWriteFailure("durable")
			durableErr = err
		}
	}
	return durableErr
}

// recordedState returns the lifecycle state of id, or "" if unknown.
func (e *Engine) recordedState(id string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[id]
	if !ok {
		return ""
	}
	return rec.state
}

func (e *Engine) setState(id string, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.records[id]; ok {
		rec.state = s
	}
}

// snapshot returns a defensive copy of the in-memory episode, or nil
// if not tracked.
func (e *Engine) snapshot(id string) *types.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.episodes[id]
	if !ok {
		return nil
	}
	return ep.Clone()
}
