package embedded

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/storage"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Store is the embedded single-writer KV backend. All reads are
// served from an in-memory index loaded at Open time; writes append a
// record to the log file and update the index under a single mutex,
// matching spec.md §4.1.b's "single-writer embedded key/value store"
// requirement. Every exported method is safe to call from multiple
// goroutines.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File

	episodes      map[string][]byte
	patterns      map[string][]byte
	heuristics    map[string][]byte
	embeddings    map[string][]byte // raw float32 vector bytes, keyed by embeddingKey
	relationships map[string][]byte // id -> json blob
	summaries     map[string][]byte // episode_id -> json blob
}

var _ storage.Backend = (*Store)(nil)
var _ storage.SizeCapper = (*Store)(nil)

// Open loads path (creating it if absent) and replays its append-only
// log into memory.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "failed to open embedded store file", err)
	}

	s := &Store{
		path:          path,
		file:          f,
		episodes:      make(map[string][]byte),
		patterns:      make(map[string][]byte),
		heuristics:    make(map[string][]byte),
		embeddings:    make(map[string][]byte),
		relationships: make(map[string][]byte),
		summaries:     make(map[string][]byte),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// replay reads every record from the log in order, applying later
// writes (and tombstones) over earlier ones — last write wins.
func (s *Store) replay() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(errors.KindIO, "failed to seek embedded store file", err)
	}
	r := bufio.NewReader(s.file)

	for {
		kind, key, value, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(errors.KindStorage, "embedded store log is corrupt", err)
		}
		s.applyLocked(kind, key, value)
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(errors.KindIO, "failed to seek to end of embedded store file", err)
	}
	return nil
}

func (s *Store) applyLocked(kind recordKind, key string, value []byte) {
	switch kind {
	case kindEpisode:
		s.episodes[key] = value
	case kindPattern:
		s.patterns[key] = value
	case kindHeuristic:
		s.heuristics[key] = value
	case kindEmbedding:
		s.embeddings[key] = value
	case kindRelationship:
		s.relationships[key] = value
	case kindSummary:
		s.summaries[key] = value
	case kindTombstone:
		delete(s.episodes, key)
		delete(s.patterns, key)
		delete(s.heuristics, key)
		delete(s.embeddings, key)
		delete(s.relationships, key)
		delete(s.summaries, key)
	}
}

// writeRecord appends one record to the log and applies it to the
// in-memory index, all under the store's mutex.
func (s *Store) writeRecord(kind recordKind, key string, value []byte) error {
	if kind != kindTombstone {
		if err := checkSize(kind, len(value)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendRecord(s.file, kind, key, value); err != nil {
		return errors.Wrap(errors.KindIO, "failed to append embedded store record", err)
	}
	s.applyLocked(kind, key, value)
	return nil
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ================================================
// on-disk record codec: [kind:1][keyLen:4][key][valLen:4][val]
// ================================================

func appendRecord(w io.Writer, kind recordKind, key string, value []byte) error {
	header := make([]byte, 1+4+len(key)+4)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(key)))
	copy(header[5:5+len(key)], key)
	binary.BigEndian.PutUint32(header[5+len(key):9+len(key)], uint32(len(value)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(value) > 0 {
		if _, err := w.Write(value); err != nil {
			return err
		}
	}
	if f, ok := w.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

func readRecord(r *bufio.Reader) (recordKind, string, []byte, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return 0, "", nil, err
	}

	keyLenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, keyLenBuf); err != nil {
		return 0, "", nil, unexpectedEOF(err)
	}
	keyLen := binary.BigEndian.Uint32(keyLenBuf)
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return 0, "", nil, unexpectedEOF(err)
	}

	valLenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, valLenBuf); err != nil {
		return 0, "", nil, unexpectedEOF(err)
	}
	valLen := binary.BigEndian.Uint32(valLenBuf)
	valBuf := make([]byte, valLen)
	if valLen > 0 {
		if _, err := io.ReadFull(r, valBuf); err != nil {
			return 0, "", nil, unexpectedEOF(err)
		}
	}

	return recordKind(kindByte), string(keyBuf), valBuf, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ================================================
// storage.Backend
// ================================================

func (s *Store) StoreEpisode(_ context.Context, ep *types.Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.New().String()
	}
	blob, err := json.Marshal(ep)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal episode", err)
	}
	return s.writeRecord(kindEpisode, ep.EpisodeID, blob)
}

func (s *Store) GetEpisode(_ context.Context, id string) (*types.Episode, error) {
	s.mu.Lock()
	blob, ok := s.episodes[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("episode", id)
	}
	var ep types.Episode
	if err := json.Unmarshal(blob, &ep); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal episode", err).WithID(id)
	}
	return &ep, nil
}

// DeleteEpisode tombstones the episode row plus every embedding and
// relationship record that references it. Embeddings are keyed by
// "dim:episodeID" rather than the plain episode ID (one entry per
// dimension bucket), and relationships are keyed by their own ID, so a
// single tombstone on id would silently leave both behind; this walks
// the index first to find every matching key. Embeddings are removed
// before relationships, which are removed before the episode row
// itself, matching the durable backend's ordering.
func (s *Store) DeleteEpisode(_ context.Context, id string) error {
	suffix := ":" + id

	s.mu.Lock()
	var embeddingKeys []string
	for k := range s.embeddings {
		if strings.HasSuffix(k, suffix) {
			embeddingKeys = append(embeddingKeys, k)
		}
	}
	var relationshipIDs []string
	for relID, blob := range s.relationships {
		var r types.EpisodeRelationship
		if json.Unmarshal(blob, &r) != nil {
			continue
		}
		if r.FromEpisodeID == id || r.ToEpisodeID == id {
			relationshipIDs = append(relationshipIDs, relID)
		}
	}
	s.mu.Unlock()

	for _, k := range embeddingKeys {
		if err := s.writeRecord(kindTombstone, k, nil); err != nil {
			return err
		}
	}
	for _, relID := range relationshipIDs {
		if err := s.writeRecord(kindTombstone, relID, nil); err != nil {
			return err
		}
	}
	return s.writeRecord(kindTombstone, id, nil)
}

func (s *Store) ListEpisodes(_ context.Context, filter storage.EpisodeFilter) ([]*types.Episode, error) {
	s.mu.Lock()
	blobs := make([][]byte, 0, len(s.episodes))
	for _, b := range s.episodes {
		blobs = append(blobs, b)
	}
	s.mu.Unlock()

	out := make([]*types.Episode, 0, len(blobs))
	for _, b := range blobs {
		var ep types.Episode
		if json.Unmarshal(b, &ep) != nil {
			continue
		}
		if filter.Domain != "" && ep.Context.Domain != filter.Domain {
			continue
		}
		if filter.TaskType != "" && ep.TaskType != filter.TaskType {
			continue
		}
		out = append(out, &ep)
	}
	return out, nil
}

func (s *Store) CountEpisodes(_ context.Context, domain string) (int, error) {
	eps, _ := s.ListEpisodes(context.Background(), storage.EpisodeFilter{Domain: domain})
	return len(eps), nil
}

func (s *Store) StorePattern(_ context.Context, p *types.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal pattern", err)
	}
	return s.writeRecord(kindPattern, p.ID, blob)
}

func (s *Store) GetPattern(_ context.Context, id string) (*types.Pattern, error) {
	s.mu.Lock()
	blob, ok := s.patterns[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("pattern", id)
	}
	var p types.Pattern
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal pattern", err).WithID(id)
	}
	return &p, nil
}

func (s *Store) ListPatterns(_ context.Context, domain string) ([]*types.Pattern, error) {
	s.mu.Lock()
	blobs := make([][]byte, 0, len(s.patterns))
	for _, b := range s.patterns {
		blobs = append(blobs, b)
	}
	s.mu.Unlock()

	out := make([]*types.Pattern, 0, len(blobs))
	for _, b := range blobs {
		var p types.Pattern
		if json.Unmarshal(b, &p) != nil {
			continue
		}
		if domain != "" && p.Context.Domain != domain {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) DeletePattern(_ context.Context, id string) error {
	return s.writeRecord(kindTombstone, id, nil)
}

func (s *Store) StoreHeuristic(_ context.Context, h *types.Heuristic) error {
	if h.HeuristicID == "" {
		h.HeuristicID = uuid.New().String()
	}
	blob, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal heuristic", err)
	}
	return s.writeRecord(kindHeuristic, h.HeuristicID, blob)
}

func (s *Store) GetHeuristic(_ context.Context, id string) (*types.Heuristic, error) {
	s.mu.Lock()
	blob, ok := s.heuristics[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("heuristic", id)
	}
	var h types.Heuristic
	if err := json.Unmarshal(blob, &h); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal heuristic", err).WithID(id)
	}
	return &h, nil
}

func (s *Store) ListHeuristics(_ context.Context, domain string) ([]*types.Heuristic, error) {
	s.mu.Lock()
	blobs := make([][]byte, 0, len(s.heuristics))
	for _, b := range s.heuristics {
		blobs = append(blobs, b)
	}
	s.mu.Unlock()

	out := make([]*types.Heuristic, 0, len(blobs))
	for _, b := range blobs {
		var h types.Heuristic
		if json.Unmarshal(b, &h) != nil {
			continue
		}
		if domain != "" && domainFromCondition(h.Condition) != domain {
			continue
		}
		out = append(out, &h)
	}
	return out, nil
}

// domainFromCondition mirrors internal/storage/durable's grouping key:
// heuristics carry no first-class domain field, so domain-scoped listing
// reads it off the "<domain>: ..." prefix internal/pipeline/heuristic
// writes into Condition.
func domainFromCondition(condition string) string {
	for i, r := range condition {
		if r == ':' {
			return condition[:i]
		}
	}
	return ""
}

func embeddingKey(itemID string, dim int) string {
	return fmt.Sprintf("%d:%s", dim, itemID)
}

func (s *Store) StoreEmbedding(_ context.Context, episodeID string, emb *types.Embedding) error {
	raw := encodeVector(emb.Vector)
	return s.writeRecord(kindEmbedding, embeddingKey(episodeID, len(emb.Vector)), raw)
}

func (s *Store) GetEmbedding(_ context.Context, episodeID string, dim int) (*types.Embedding, error) {
	s.mu.Lock()
	raw, ok := s.embeddings[embeddingKey(episodeID, dim)]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("embedding", episodeID)
	}
	return &types.Embedding{ItemID: episodeID, Vector: decodeVector(raw)}, nil
}

func (s *Store) StoreRelationship(_ context.Context, rel *types.EpisodeRelationship) error {
	if rel.FromEpisodeID == rel.ToEpisodeID {
		return errors.NewSelfReferenceError(rel.FromEpisodeID)
	}
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	blob, err := json.Marshal(rel)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal relationship", err)
	}
	return s.writeRecord(kindRelationship, rel.ID, blob)
}

func (s *Store) ListRelationships(_ context.Context, episodeID string) ([]*types.EpisodeRelationship, error) {
	s.mu.Lock()
	blobs := make([][]byte, 0, len(s.relationships))
	for _, b := range s.relationships {
		blobs = append(blobs, b)
	}
	s.mu.Unlock()

	out := make([]*types.EpisodeRelationship, 0)
	for _, b := range blobs {
		var r types.EpisodeRelationship
		if json.Unmarshal(b, &r) != nil {
			continue
		}
		if r.FromEpisodeID == episodeID || r.ToEpisodeID == episodeID {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (s *Store) StoreEpisodeSummary(_ context.Context, summary *types.EpisodeSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, "failed to marshal episode summary", err).WithID(summary.EpisodeID)
	}
	return s.writeRecord(kindSummary, summary.EpisodeID, blob)
}

func (s *Store) GetEpisodeSummary(_ context.Context, episodeID string) (*types.EpisodeSummary, error) {
	s.mu.Lock()
	blob, ok := s.summaries[episodeID]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("episode_summary", episodeID)
	}
	var summary types.EpisodeSummary
	if err := json.Unmarshal(blob, &summary); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to unmarshal episode summary", err).WithID(episodeID)
	}
	return &summary, nil
}

func (s *Store) MaxEpisodeSize() int64   { return MaxEpisodeSize }
func (s *Store) MaxPatternSize() int64   { return MaxPatternSize }
func (s *Store) MaxHeuristicSize() int64 { return MaxHeuristicSize }
func (s *Store) MaxEmbeddingSize() int64 { return MaxEmbeddingSize }
