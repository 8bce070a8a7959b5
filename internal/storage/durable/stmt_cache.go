package durable

import (
	"container/list"
	"context"
	"database/sql"
	"sync"
)

// fingerprint is the cache key for a prepared statement: a HighwayHash
// of the SQL text (see fingerprint.go), matching spec.md §4.1.a's
// "(ConnectionId, SQL fingerprint)" keying.
type fingerprint = uint64

type stmtEntry struct {
	fp   fingerprint
	stmt *sql.Stmt
}

// stmtCache is a per-connection bounded cache of prepared statements,
// keyed by SQL fingerprint, evicted LRU when MaxPreparedPerConnection
// is exceeded. It is owned by exactly one pooledConn and is cleared
// (closing every statement) when that connection is dropped.
type stmtCache struct {
	mu       sync.Mutex
	max      int
	order    *list.List
	byFp     map[fingerprint]*list.Element
}

func newStmtCache(max int) *stmtCache {
	if max <= 0 {
		max = 32
	}
	return &stmtCache{max: max, order: list.New(), byFp: make(map[fingerprint]*list.Element)}
}

// prepare returns a cached *sql.Stmt for sql, preparing a fresh one
// against conn on a cache miss and evicting the LRU entry if the
// per-connection cache is full.
func (c *stmtCache) prepare(ctx context.Context, conn *sql.Conn, query string) (*sql.Stmt, error) {
	fp := sqlFingerprint(query)

	c.mu.Lock()
	if el, ok := c.byFp[fp]; ok {
		c.order.MoveToFront(el)
		stmt := el.Value.(*stmtEntry).stmt
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byFp[fp]; ok {
		// Lost a race with a concurrent prepare of the same query; keep
		// the winner, close ours.
		c.order.MoveToFront(el)
		existing := el.Value.(*stmtEntry).stmt
		stmt.Close()
		return existing, nil
	}

	for c.order.Len() >= c.max {
		back := c.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*stmtEntry)
		evicted.stmt.Close()
		delete(c.byFp, evicted.fp)
		c.order.Remove(back)
	}

	el := c.order.PushFront(&stmtEntry{fp: fp, stmt: stmt})
	c.byFp[fp] = el
	return stmt, nil
}

// clear closes every cached statement. Called via the pool's cleanup
// callback when the owning connection is returned or dropped.
func (c *stmtCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*stmtEntry).stmt.Close()
	}
	c.order.Init()
	c.byFp = make(map[fingerprint]*list.Element)
}
