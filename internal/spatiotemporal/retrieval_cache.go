package spatiotemporal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cliairmonitor/epimem/internal/cache"
	"github.com/cliairmonitor/epimem/internal/config"
)

// RetrievalCache memoizes Retriever answers keyed by
// (query_text, domain, task_type, k, temporal_bias_weight), per
// spec.md §4.7, with the same LRU+TTL semantics as §4.1.c. It tracks
// which domain/task_type each cached answer depended on so
// complete_episode can invalidate precisely.
type RetrievalCache struct {
	lru *cache.Cache[[]ScoredEpisode]

	mu    sync.Mutex
	byTag map[string]map[string]struct{} // "domain:x" or "task_type:y" -> fingerprints
}

// NewRetrievalCache builds a cache sized from cfg (nil uses defaults).
func NewRetrievalCache(cfg *config.RetrievalConfig) *RetrievalCache {
	if cfg == nil {
		cfg = config.DefaultRetrievalConfig()
	}
	return &RetrievalCache{
		lru:   cache.New[[]ScoredEpisode](cache.Config{MaxSize: cfg.QueryCacheMaxSize, DefaultTTL: cfg.QueryCacheTTL}),
		byTag: make(map[string]map[string]struct{}),
	}
}

// Key derives the cache fingerprint for a query per spec.md §4.7.
func Key(q RetrievalQuery, k int, temporalBiasWeight float64) string {
	return fmt.Sprintf("%s|%s|%s|%d|%.4f", strings.ToLower(strings.TrimSpace(q.QueryText)), q.Domain, q.TaskType, k, temporalBiasWeight)
}

// Get looks up a cached answer.
func (c *RetrievalCache) Get(key string) ([]ScoredEpisode, bool) {
	return c.lru.Get(key)
}

// Put stores an answer, tagged by the query's domain/task_type for
// later invalidation.
func (c *RetrievalCache) Put(key string, q RetrievalQuery, answer []ScoredEpisode) {
	size := estimateSize(answer)
	c.lru.Put(key, answer, size)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tagsFor(q) {
		if c.byTag[tag] == nil {
			c.byTag[tag] = make(map[string]struct{})
		}
		c.byTag[tag][key] = struct{}{}
	}
}

// InvalidateEpisode drops every cached answer whose domain or
// task_type matches ep's context, per the complete_episode
// invalidation rule in spec.md §4.7.
func (c *RetrievalCache) InvalidateEpisode(domain string, taskType string) {
	tags := []string{"domain:" + domain, "task_type:" + taskType}

	c.mu.Lock()
	keys := make(map[string]struct{})
	for _, tag := range tags {
		for key := range c.byTag[tag] {
			keys[key] = struct{}{}
		}
		delete(c.byTag, tag)
	}
	c.mu.Unlock()

	for key := range keys {
		c.lru.Remove(key)
	}
}

func (c *RetrievalCache) Close() {
	c.lru.Close()
}

func tagsFor(q RetrievalQuery) []string {
	var tags []string
	if q.Domain != "" {
		tags = append(tags, "domain:"+q.Domain)
	}
	if q.TaskType != "" {
		tags = append(tags, "task_type:"+string(q.TaskType))
	}
	return tags
}

func estimateSize(answer []ScoredEpisode) int64 {
	b, err := json.Marshal(answer)
	if err != nil {
		return int64(len(answer) * 64)
	}
	return int64(len(b))
}
