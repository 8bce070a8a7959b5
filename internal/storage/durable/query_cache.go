package durable

import (
	"sort"
	"strings"
	"sync"

	"github.com/cliairmonitor/epimem/internal/cache"
	"github.com/cliairmonitor/epimem/internal/config"
)

// queryCache caches serialized result sets by query fingerprint,
// tracking which tables each fingerprint depends on so a CRUD
// operation touching a table invalidates every cached query that read
// it, per spec.md §4.1.a.
type queryCache struct {
	lru *cache.Cache[[]byte]

	mu       sync.Mutex
	tableDeps map[string]map[string]struct{} // table -> set of fingerprints
}

func newQueryCache(cfg *config.RetrievalConfig) *queryCache {
	if cfg == nil {
		cfg = config.DefaultRetrievalConfig()
	}
	return &queryCache{
		lru:       cache.New[[]byte](cache.Config{MaxSize: cfg.QueryCacheMaxSize, DefaultTTL: cfg.QueryCacheTTL}),
		tableDeps: make(map[string]map[string]struct{}),
	}
}

// fingerprintFor derives a stable cache key from a query and its bound
// arguments, hashed with the same HighwayHash fingerprint the
// prepared-statement cache uses.
func fingerprintFor(query string, args ...any) string {
	var sb strings.Builder
	sb.WriteString(query)
	for _, a := range args {
		sb.WriteString("|")
		sb.WriteString(strings.TrimSpace(anyToString(a)))
	}
	return fingerprintHex(sqlFingerprint(sb.String()))
}

func anyToString(a any) string {
	if s, ok := a.(string); ok {
		return s
	}
	return ""
}

// get looks up a cached result by fingerprint.
func (q *queryCache) get(fp string) ([]byte, bool) {
	return q.lru.Get(fp)
}

// put stores a cached result and registers its table dependencies.
func (q *queryCache) put(fp string, value []byte, tables ...string) {
	q.lru.Put(fp, value, int64(len(value)))

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tables {
		if q.tableDeps[t] == nil {
			q.tableDeps[t] = make(map[string]struct{})
		}
		q.tableDeps[t][fp] = struct{}{}
	}
}

// invalidateTable drops every cached query that depended on table.
func (q *queryCache) invalidateTable(table string) {
	q.mu.Lock()
	fps := q.tableDeps[table]
	delete(q.tableDeps, table)
	q.mu.Unlock()

	for fp := range fps {
		q.lru.Remove(fp)
	}
}

// invalidateTables is the batch-completion variant: invalidate every
// table a just-committed batch touched.
func (q *queryCache) invalidateTables(tables []string) {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	for _, t := range sorted {
		q.invalidateTable(t)
	}
}

func (q *queryCache) close() {
	q.lru.Close()
}
