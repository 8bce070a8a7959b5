package durable

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/errors"
)

// ConnectionID uniquely identifies a pooled connection for the
// lifetime of the pool. Prepared statements are owned by the
// (ConnectionID, SQL) pair, matching spec.md §4.1.a.
type ConnectionID uint64

// pooledConn wraps a *sql.Conn (checked out of the driver's own pool)
// with the bookkeeping spec.md's adaptive pool and prepared-statement
// cache need: an identity, a last-used timestamp for keep-alive/stale
// detection, and a per-connection statement cache.
type pooledConn struct {
	id       ConnectionID
	conn     *sql.Conn
	lastUsed atomic.Int64 // unix nanos
	stmts    *stmtCache
}

func (p *pooledConn) touch() { p.lastUsed.Store(time.Now().UnixNano()) }

func (p *pooledConn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.lastUsed.Load()))
}

// CleanupCallback is invoked when a pool connection is dropped, so a
// caller (e.g. the prepared-statement cache's owner) can release any
// resources keyed by ConnectionID. Optional: a nil callback must never
// cause a leak beyond process exit, since the statement cache itself
// is torn down with the connection.
type CleanupCallback func(ConnectionID)

// Pool is a bounded, adaptively-scaled wrapper around database/sql's
// own connection pool. database/sql already multiplexes real
// connections, so Pool's job is the spec-mandated bookkeeping on top:
// ConnectionIDs, a prepared-statement cache per connection, a ticked
// scaling loop, and optional keep-alive.
type Pool struct {
	db  *sql.DB
	cfg *config.PoolConfig

	mu       sync.Mutex
	conns    map[ConnectionID]*pooledConn
	nextID   atomic.Uint64
	inUse    atomic.Int64
	onDrop   CleanupCallback

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool opens db and starts the pool's background scaling and
// (if enabled) keep-alive loops. Callers must call Close.
func NewPool(db *sql.DB, cfg *config.PoolConfig, onDrop CleanupCallback) *Pool {
	if cfg == nil {
		cfg = config.DefaultPoolConfig()
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	p := &Pool{
		db:     db,
		cfg:    cfg,
		conns:  make(map[ConnectionID]*pooledConn),
		onDrop: onDrop,
		stopCh: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.scaleLoop()
	if cfg.EnableKeepAlive {
		p.wg.Add(1)
		go p.keepAliveLoop()
	}
	return p
}

// Acquire checks out a connection, blocking up to ConnectionTimeout.
func (p *Pool) Acquire(ctx context.Context) (*pooledConn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "acquire connection timed out", err)
	}

	pc := &pooledConn{id: ConnectionID(p.nextID.Add(1)), conn: conn, stmts: newStmtCache(p.cfg.MaxPreparedPerConnection)}
	pc.touch()

	p.mu.Lock()
	p.conns[pc.id] = pc
	p.mu.Unlock()
	p.inUse.Add(1)

	return pc, nil
}

// Release returns a connection to the underlying pool and drops its
// statement cache, invoking the cleanup callback if one was supplied.
func (p *Pool) Release(pc *pooledConn) {
	p.mu.Lock()
	delete(p.conns, pc.id)
	p.mu.Unlock()
	p.inUse.Add(-1)

	pc.stmts.clear()
	if p.onDrop != nil {
		p.onDrop(pc.id)
	}
	pc.conn.Close()
}

// Close stops background loops and closes the underlying *sql.DB.
func (p *Pool) Close() error {
	close(p.stopCh)
	p.wg.Wait()
	return p.db.Close()
}

// Stats is a point-in-time snapshot used by the scaling loop.
type Stats struct {
	InUse int64
	Open  int
}

func (p *Pool) stats() Stats {
	dbStats := p.db.Stats()
	return Stats{InUse: p.inUse.Load(), Open: dbStats.OpenConnections}
}

// scaleLoop ticks every ScaleCooldown, growing MaxOpenConns when the
// pool is running hot (fraction in-use ≥ ScaleUpThreshold) and
// shrinking it back down when it has been idle (fraction in-use ≤
// ScaleDownThreshold), staying within [MinConnections, MaxConnections].
func (p *Pool) scaleLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ScaleCooldown)
	defer ticker.Stop()

	current := p.cfg.MaxConnections
	for {
		select {
		case <-ticker.C:
			s := p.stats()
			if s.Open == 0 {
				continue
			}
			fraction := float64(s.InUse) / float64(s.Open)
			switch {
			case fraction >= p.cfg.ScaleUpThreshold && current < p.cfg.MaxConnections:
				current = min(current+p.cfg.ScaleIncrement, p.cfg.MaxConnections)
				p.db.SetMaxOpenConns(current)
			case fraction <= p.cfg.ScaleDownThreshold && current > p.cfg.MinConnections:
				current = max(current-p.cfg.ScaleIncrement, p.cfg.MinConnections)
				p.db.SetMaxOpenConns(current)
			}
		case <-p.stopCh:
			return
		}
	}
}

// keepAliveLoop pings connections idle longer than StaleThreshold so
// they either refresh or get recycled by database/sql.
func (p *Pool) keepAliveLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			p.mu.Lock()
			stale := make([]*pooledConn, 0)
			for _, pc := range p.conns {
				if pc.idleFor(now) > p.cfg.StaleThreshold {
					stale = append(stale, pc)
				}
			}
			p.mu.Unlock()
			for _, pc := range stale {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = pc.conn.PingContext(ctx)
				cancel()
				pc.touch()
			}
		case <-p.stopCh:
			return
		}
	}
}
