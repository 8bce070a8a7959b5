// Package durable implements the SQL-over-libsql-compatible storage
// backend from spec.md §4.1.a: TLS/URL enforcement, a bounded adaptive
// connection pool with a per-connection prepared-statement cache, an
// optional SQL-level query cache with table-dependency invalidation,
// and transparent embedding-blob compression.
//
// Grounded on the teacher's internal/memory/learning.go and
// operational.go: database/sql + modernc.org/sqlite, //go:embed schema,
// WAL pragmas, sql.Null* scan idiom, ON CONFLICT DO UPDATE upserts.
package durable

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/storage"
	"github.com/cliairmonitor/epimem/internal/storage/durable/transport"
	"github.com/cliairmonitor/epimem/internal/types"
)

//go:embed schema.sql
var schema string

// DB is the durable backend. It implements storage.Backend.
type DB struct {
	pool  *Pool
	codec *transport.Codec
	qc    *queryCache
}

var _ storage.Backend = (*DB)(nil)

// Open validates url/authToken per the TLS-enforcement contract, opens
// the underlying sqlite handle, applies the schema, and wires the
// connection pool, compression codec, and query cache.
func Open(url, authToken string, poolCfg *config.PoolConfig, retrievalCfg *config.RetrievalConfig, compressionThresholdBytes int) (*DB, error) {
	if err := validateConnectionString(url, authToken); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", driverDSN(url))
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "failed to open durable store", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, errors.Wrap(errors.KindStorage, "failed to configure durable store", err)
		}
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(errors.KindStorage, "failed to apply durable schema", err)
	}

	codec, err := transport.NewCodec(compressionThresholdBytes)
	if err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(errors.KindStorage, "failed to construct compression codec", err)
	}

	qc := newQueryCache(retrievalCfg)
	pool := NewPool(sqlDB, poolCfg, func(ConnectionID) {
		// Statement cache cleanup already happened in Pool.Release; this
		// callback exists so callers that want to track per-connection
		// resources beyond the statement cache have a hook, per
		// spec.md §4.1.a's "cleanup callback" contract.
	})

	return &DB{pool: pool, codec: codec, qc: qc}, nil
}

// Close closes the pool and releases the compression codec.
func (d *DB) Close() error {
	d.qc.close()
	d.codec.Close()
	return d.pool.Close()
}

// withConn acquires a pooled connection, runs fn, and always releases
// the connection back to the pool.
func (d *DB) withConn(ctx context.Context, fn func(pc *pooledConn) error) error {
	pc, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer d.pool.Release(pc)
	pc.touch()
	return fn(pc)
}

// ================================================
// Episodes
// ================================================

func (d *DB) StoreEpisode(ctx context.Context, ep *types.Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.New().String()
	}

	steps, err := json.Marshal(ep.Steps)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal steps", err)
	}
	var outcomeKind string
	var outcomeBlob []byte
	if ep.Outcome != nil {
		outcomeKind = string(ep.Outcome.Kind)
		outcomeBlob, err = json.Marshal(ep.Outcome)
		if err != nil {
			return errors.Wrap(errors.KindSerialization, "failed to marshal outcome", err)
		}
	}
	salient, _ := json.Marshal(ep.SalientFeatures)
	reward, _ := json.Marshal(ep.Reward)
	reflection, _ := json.Marshal(ep.Reflection)
	tags, _ := json.Marshal(ep.Context.Tags)
	patterns, _ := json.Marshal(ep.Patterns)
	heuristics, _ := json.Marshal(ep.Heuristics)
	metadata, _ := json.Marshal(ep.Metadata)

	const query = `
		INSERT INTO episodes (
			episode_id, task_description, domain, language, framework, complexity, tags,
			task_type, start_time, end_time, steps, outcome_kind, outcome,
			salient_features, reward, reflection, patterns, heuristics, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
			task_description = excluded.task_description,
			end_time = excluded.end_time,
			steps = excluded.steps,
			outcome_kind = excluded.outcome_kind,
			outcome = excluded.outcome,
			salient_features = excluded.salient_features,
			reward = excluded.reward,
			reflection = excluded.reflection,
			patterns = excluded.patterns,
			heuristics = excluded.heuristics,
			metadata = excluded.metadata
	`

	err = d.withConn(ctx, func(pc *pooledConn) error {
		stmt, err := pc.stmts.prepare(ctx, pc.conn, query)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			ep.EpisodeID, ep.TaskDescription, ep.Context.Domain, ep.Context.Language, ep.Context.Framework,
			string(ep.Context.Complexity), string(tags), string(ep.TaskType), ep.StartTime, ep.EndTime,
			steps, nullString(outcomeKind), outcomeBlob, salient, reward, reflection, string(patterns), string(heuristics), string(metadata),
		)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "failed to store episode", err).WithID(ep.EpisodeID)
	}

	for _, tag := range ep.Context.Tags {
		_ = d.withConn(ctx, func(pc *pooledConn) error {
			_, err := pc.conn.ExecContext(ctx, `INSERT OR IGNORE INTO episode_tags (episode_id, tag) VALUES (?, ?)`, ep.EpisodeID, tag)
			return err
		})
	}

	d.qc.invalidateTable("episodes")
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (d *DB) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	if cached, ok := d.qc.get(fingerprintFor("episode", id)); ok {
		var ep types.Episode
		if err := json.Unmarshal(cached, &ep); err == nil {
			return &ep, nil
		}
	}

	const query = `
		SELECT episode_id, task_description, domain, language, framework, complexity, tags,
		       task_type, start_time, end_time, steps, outcome, salient_features, reward,
		       reflection, patterns, heuristics, metadata
		FROM episodes WHERE episode_id = ?
	`

	var ep *types.Episode
	err := d.withConn(ctx, func(pc *pooledConn) error {
		stmt, err := pc.stmts.prepare(ctx, pc.conn, query)
		if err != nil {
			return err
		}
		row := stmt.QueryRowContext(ctx, id)
		var (
			language, framework sql.NullString
			tagsJSON            string
			endTime             sql.NullTime
			stepsBlob           []byte
			outcomeBlob         []byte
			salientBlob         []byte
			rewardBlob          []byte
			reflectionBlob      []byte
			patternsJSON        string
			heuristicsJSON      string
			metadataJSON        string
			complexity          string
			taskType            string
			domain              string
			taskDesc            string
			startTime           time.Time
		)
		if err := row.Scan(&id, &taskDesc, &domain, &language, &framework, &complexity, &tagsJSON,
			&taskType, &startTime, &endTime, &stepsBlob, &outcomeBlob, &salientBlob, &rewardBlob,
			&reflectionBlob, &patternsJSON, &heuristicsJSON, &metadataJSON); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("episode", id)
			}
			return errors.Wrap(errors.KindStorage, "failed to scan episode", err)
		}

		ep = &types.Episode{
			EpisodeID:       id,
			TaskDescription: taskDesc,
			Context: types.Context{
				Domain:     domain,
				Language:   language.String,
				Framework:  framework.String,
				Complexity: types.ComplexityLevel(complexity),
			},
			TaskType:  types.TaskType(taskType),
			StartTime: startTime,
		}
		if endTime.Valid {
			ep.EndTime = &endTime.Time
		}
		_ = json.Unmarshal([]byte(tagsJSON), &ep.Context.Tags)
		_ = json.Unmarshal(stepsBlob, &ep.Steps)
		if len(outcomeBlob) > 0 {
			var outcome types.TaskOutcome
			if json.Unmarshal(outcomeBlob, &outcome) == nil {
				ep.Outcome = &outcome
			}
		}
		if len(salientBlob) > 0 {
			var sf types.SalientFeatures
			if json.Unmarshal(salientBlob, &sf) == nil {
				ep.SalientFeatures = &sf
			}
		}
		if len(rewardBlob) > 0 {
			var r types.Reward
			if json.Unmarshal(rewardBlob, &r) == nil {
				ep.Reward = &r
			}
		}
		if len(reflectionBlob) > 0 {
			var r types.Reflection
			if json.Unmarshal(reflectionBlob, &r) == nil {
				ep.Reflection = &r
			}
		}
		_ = json.Unmarshal([]byte(patternsJSON), &ep.Patterns)
		_ = json.Unmarshal([]byte(heuristicsJSON), &ep.Heuristics)
		_ = json.Unmarshal([]byte(metadataJSON), &ep.Metadata)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if blob, err := json.Marshal(ep); err == nil {
		d.qc.put(fingerprintFor("episode", id), blob, "episodes")
	}
	return ep, nil
}

func (d *DB) DeleteEpisode(ctx context.Context, id string) error {
	err := d.withConn(ctx, func(pc *pooledConn) error {
		for _, table := range []string{"embeddings_384", "embeddings_1024", "embeddings_1536", "embeddings_3072", "embeddings_other"} {
			if _, err := pc.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, table), id); err != nil {
				return err
			}
		}
		_, err := pc.conn.ExecContext(ctx, `DELETE FROM episodes WHERE episode_id = ?`, id)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "failed to delete episode", err).WithID(id)
	}
	d.qc.invalidateTables([]string{"episodes", "embeddings_384", "embeddings_1024", "embeddings_1536", "embeddings_3072", "embeddings_other"})
	return nil
}

func (d *DB) ListEpisodes(ctx context.Context, filter storage.EpisodeFilter) ([]*types.Episode, error) {
	query := `SELECT episode_id FROM episodes WHERE 1=1`
	var args []any

	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	if filter.TaskType != "" {
		query += ` AND task_type = ?`
		args = append(args, string(filter.TaskType))
	}
	if !filter.Since.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += ` AND start_time <= ?`
		args = append(args, filter.Until)
	}
	query += ` ORDER BY start_time DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, filter.Limit, filter.Offset)
	}

	var ids []string
	err := d.withConn(ctx, func(pc *pooledConn) error {
		rows, err := pc.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "failed to list episodes", err)
	}

	episodes := make([]*types.Episode, 0, len(ids))
	for _, id := range ids {
		ep, err := d.GetEpisode(ctx, id)
		if err != nil {
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

func (d *DB) CountEpisodes(ctx context.Context, domain string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM episodes`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	err := d.withConn(ctx, func(pc *pooledConn) error {
		return pc.conn.QueryRowContext(ctx, query, args...).Scan(&count)
	})
	if err != nil {
		return 0, errors.Wrap(errors.KindStorage, "failed to count episodes", err)
	}
	return count, nil
}

// StoreEpisodeWithCapacity stores ep, then sequentially evicts the
// oldest episodes (by start_time, tie-broken by ID) until the domain's
// count is at most maxEpisodes, per spec.md §4.1.a. Eviction deletes
// embeddings before the episode row, and proceeds one episode at a
// time to avoid lock contention across connections.
func (d *DB) StoreEpisodeWithCapacity(ctx context.Context, ep *types.Episode, maxEpisodes int) error {
	if err := d.StoreEpisode(ctx, ep); err != nil {
		return err
	}
	if maxEpisodes <= 0 {
		return nil
	}

	count, err := d.CountEpisodes(ctx, ep.Context.Domain)
	if err != nil {
		return err
	}
	if count <= maxEpisodes {
		return nil
	}

	victims, err := d.oldestEpisodeIDs(ctx, ep.Context.Domain, count-maxEpisodes)
	if err != nil {
		return err
	}
	for _, id := range victims {
		if err := d.DeleteEpisode(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) oldestEpisodeIDs(ctx context.Context, domain string, n int) ([]string, error) {
	var ids []string
	err := d.withConn(ctx, func(pc *pooledConn) error {
		rows, err := pc.conn.QueryContext(ctx,
			`SELECT episode_id FROM episodes WHERE domain = ? ORDER BY start_time ASC, episode_id ASC LIMIT ?`,
			domain, n)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// ================================================
// Patterns
// ================================================

func (d *DB) StorePattern(ctx context.Context, p *types.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal pattern", err)
	}

	const query = `
		INSERT INTO patterns (id, kind, domain, payload, success_rate, retrieval_count,
			application_count, success_count, failure_count, first_seen, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			success_rate = excluded.success_rate,
			retrieval_count = excluded.retrieval_count,
			application_count = excluded.application_count,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			last_used = excluded.last_used
	`
	err = d.withConn(ctx, func(pc *pooledConn) error {
		stmt, err := pc.stmts.prepare(ctx, pc.conn, query)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, p.ID, string(p.Kind), p.Context.Domain, payload, p.SuccessRate,
			p.Effectiveness.RetrievalCount, p.Effectiveness.ApplicationCount, p.Effectiveness.SuccessCount,
			p.Effectiveness.FailureCount, p.Effectiveness.FirstSeen, p.Effectiveness.LastUsed)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindPattern, "failed to store pattern", err).WithID(p.ID)
	}
	d.qc.invalidateTable("patterns")
	return nil
}

func (d *DB) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	var payload []byte
	err := d.withConn(ctx, func(pc *pooledConn) error {
		row := pc.conn.QueryRowContext(ctx, `SELECT payload FROM patterns WHERE id = ?`, id)
		if err := row.Scan(&payload); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("pattern", id)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var p types.Pattern
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal pattern", err).WithID(id)
	}
	return &p, nil
}

func (d *DB) ListPatterns(ctx context.Context, domain string) ([]*types.Pattern, error) {
	var patterns []*types.Pattern
	err := d.withConn(ctx, func(pc *pooledConn) error {
		rows, err := pc.conn.QueryContext(ctx, `SELECT payload FROM patterns WHERE domain = ?`, domain)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				return err
			}
			var p types.Pattern
			if json.Unmarshal(payload, &p) == nil {
				patterns = append(patterns, &p)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindPattern, "failed to list patterns", err)
	}
	return patterns, nil
}

func (d *DB) DeletePattern(ctx context.Context, id string) error {
	err := d.withConn(ctx, func(pc *pooledConn) error {
		_, err := pc.conn.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindPattern, "failed to delete pattern", err).WithID(id)
	}
	d.qc.invalidateTable("patterns")
	return nil
}

// ================================================
// Heuristics
// ================================================

func (d *DB) StoreHeuristic(ctx context.Context, h *types.Heuristic) error {
	if h.HeuristicID == "" {
		h.HeuristicID = uuid.New().String()
	}
	evidence, err := json.Marshal(h.Evidence)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal heuristic evidence", err)
	}
	domain := domainFromCondition(h.Condition)

	const query = `
		INSERT INTO heuristics (heuristic_id, domain, condition, action, confidence, evidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(heuristic_id) DO UPDATE SET
			condition = excluded.condition,
			action = excluded.action,
			confidence = excluded.confidence,
			evidence = excluded.evidence,
			updated_at = excluded.updated_at
	`
	err = d.withConn(ctx, func(pc *pooledConn) error {
		stmt, err := pc.stmts.prepare(ctx, pc.conn, query)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, h.HeuristicID, domain, h.Condition, h.Action, h.Confidence, evidence, h.CreatedAt, h.UpdatedAt)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "failed to store heuristic", err).WithID(h.HeuristicID)
	}
	d.qc.invalidateTable("heuristics")
	return nil
}

// domainFromCondition is a placeholder grouping key: heuristics don't
// carry an explicit domain field in the data model, so callers that
// need domain-scoped listing tag it into the condition's first
// colon-delimited segment (pipeline/heuristic writes "<domain>: ...").
func domainFromCondition(condition string) string {
	for i, r := range condition {
		if r == ':' {
			return condition[:i]
		}
	}
	return ""
}

func (d *DB) GetHeuristic(ctx context.Context, id string) (*types.Heuristic, error) {
	var h types.Heuristic
	var evidence []byte
	err := d.withConn(ctx, func(pc *pooledConn) error {
		row := pc.conn.QueryRowContext(ctx,
			`SELECT heuristic_id, condition, action, confidence, evidence, created_at, updated_at FROM heuristics WHERE heuristic_id = ?`, id)
		return row.Scan(&h.HeuristicID, &h.Condition, &h.Action, &h.Confidence, &evidence, &h.CreatedAt, &h.UpdatedAt)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("heuristic", id)
		}
		return nil, errors.Wrap(errors.KindStorage, "failed to get heuristic", err).WithID(id)
	}
	_ = json.Unmarshal(evidence, &h.Evidence)
	return &h, nil
}

func (d *DB) ListHeuristics(ctx context.Context, domain string) ([]*types.Heuristic, error) {
	var out []*types.Heuristic
	err := d.withConn(ctx, func(pc *pooledConn) error {
		rows, err := pc.conn.QueryContext(ctx,
			`SELECT heuristic_id, condition, action, confidence, evidence, created_at, updated_at FROM heuristics WHERE domain = ?`, domain)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h types.Heuristic
			var evidence []byte
			if err := rows.Scan(&h.HeuristicID, &h.Condition, &h.Action, &h.Confidence, &evidence, &h.CreatedAt, &h.UpdatedAt); err != nil {
				return err
			}
			_ = json.Unmarshal(evidence, &h.Evidence)
			out = append(out, &h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "failed to list heuristics", err)
	}
	return out, nil
}

// ================================================
// Embeddings
// ================================================

func (d *DB) StoreEmbedding(ctx context.Context, episodeID string, emb *types.Embedding) error {
	table := "embeddings_" + types.DimensionBucket(len(emb.Vector))
	raw := encodeFloat32Vector(emb.Vector)
	blob := d.codec.Encode(raw)
	compressed := 0
	if len(blob) > 0 && blob[0] == 1 {
		compressed = 1
	}

	var query string
	var args []any
	if table == "embeddings_other" {
		query = `INSERT INTO embeddings_other (item_id, dim, vector, compressed) VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector, compressed = excluded.compressed`
		args = []any{episodeID, len(emb.Vector), blob, compressed}
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (item_id, vector, compressed) VALUES (?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET vector = excluded.vector, compressed = excluded.compressed`, table)
		args = []any{episodeID, blob, compressed}
	}

	err := d.withConn(ctx, func(pc *pooledConn) error {
		_, err := pc.conn.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindEmbedding, "failed to store embedding", err).WithID(episodeID)
	}
	d.qc.invalidateTable(table)
	return nil
}

func (d *DB) GetEmbedding(ctx context.Context, episodeID string, dim int) (*types.Embedding, error) {
	table := "embeddings_" + types.DimensionBucket(dim)
	var blob []byte
	err := d.withConn(ctx, func(pc *pooledConn) error {
		row := pc.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT vector FROM %s WHERE item_id = ?`, table), episodeID)
		return row.Scan(&blob)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("embedding", episodeID)
		}
		return nil, errors.Wrap(errors.KindEmbedding, "failed to get embedding", err).WithID(episodeID)
	}

	raw, err := d.codec.Decode(blob)
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to decompress embedding", err).WithID(episodeID)
	}
	return &types.Embedding{ItemID: episodeID, Vector: decodeFloat32Vector(raw)}, nil
}

// ================================================
// Relationships
// ================================================

func (d *DB) StoreRelationship(ctx context.Context, rel *types.EpisodeRelationship) error {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	if rel.FromEpisodeID == rel.ToEpisodeID {
		return errors.NewSelfReferenceError(rel.FromEpisodeID)
	}

	err := d.withConn(ctx, func(pc *pooledConn) error {
		_, err := pc.conn.ExecContext(ctx,
			`INSERT INTO episode_relationships (id, from_episode_id, to_episode_id, rel_type, priority, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rel.ID, rel.FromEpisodeID, rel.ToEpisodeID, string(rel.Type), rel.Priority, rel.CreatedAt)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindRelationship, "failed to store relationship", err).WithID(rel.ID)
	}
	d.qc.invalidateTable("episode_relationships")
	return nil
}

func (d *DB) ListRelationships(ctx context.Context, episodeID string) ([]*types.EpisodeRelationship, error) {
	var out []*types.EpisodeRelationship
	err := d.withConn(ctx, func(pc *pooledConn) error {
		rows, err := pc.conn.QueryContext(ctx,
			`SELECT id, from_episode_id, to_episode_id, rel_type, priority, created_at
			 FROM episode_relationships WHERE from_episode_id = ? OR to_episode_id = ?
			 ORDER BY priority DESC, created_at ASC`, episodeID, episodeID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r types.EpisodeRelationship
			var relType string
			if err := rows.Scan(&r.ID, &r.FromEpisodeID, &r.ToEpisodeID, &relType, &r.Priority, &r.CreatedAt); err != nil {
				return err
			}
			r.Type = types.RelationshipType(relType)
			out = append(out, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindRelationship, "failed to list relationships", err).WithID(episodeID)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// ================================================
// Episode summaries
// ================================================

func (d *DB) StoreEpisodeSummary(ctx context.Context, s *types.EpisodeSummary) error {
	keySteps, err := json.Marshal(s.KeySteps)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal summary key steps", err).WithID(s.EpisodeID)
	}

	err = d.withConn(ctx, func(pc *pooledConn) error {
		_, err := pc.conn.ExecContext(ctx,
			`INSERT INTO episode_summaries (episode_id, summary, key_steps, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(episode_id) DO UPDATE SET summary = excluded.summary, key_steps = excluded.key_steps`,
			s.EpisodeID, s.Summary, string(keySteps), s.CreatedAt)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "failed to store episode summary", err).WithID(s.EpisodeID)
	}
	d.qc.invalidateTable("episode_summaries")
	return nil
}

func (d *DB) GetEpisodeSummary(ctx context.Context, episodeID string) (*types.EpisodeSummary, error) {
	var s types.EpisodeSummary
	var keySteps string
	s.EpisodeID = episodeID

	err := d.withConn(ctx, func(pc *pooledConn) error {
		row := pc.conn.QueryRowContext(ctx,
			`SELECT summary, key_steps, created_at FROM episode_summaries WHERE episode_id = ?`, episodeID)
		return row.Scan(&s.Summary, &keySteps, &s.CreatedAt)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("episode_summary", episodeID)
		}
		return nil, errors.Wrap(errors.KindStorage, "failed to get episode summary", err).WithID(episodeID)
	}
	if err := json.Unmarshal([]byte(keySteps), &s.KeySteps); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal summary key steps", err).WithID(episodeID)
	}
	return &s, nil
}

// MaxEpisodeSize and friends satisfy storage.SizeCapper for callers
// that branch on whether they're talking to the durable backend (no
// hard caps here; only the embedded backend enforces them) or the
// embedded one.
func (d *DB) MaxEpisodeSize() int64   { return -1 }
func (d *DB) MaxPatternSize() int64   { return -1 }
func (d *DB) MaxHeuristicSize() int64 { return -1 }
func (d *DB) MaxEmbeddingSize() int64 { return -1 }
