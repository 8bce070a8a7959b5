// Package embedded implements the embedded single-file KV cache
// backend from spec.md §4.1.b: a compact length-prefixed binary
// format with hard per-record-kind size caps, grounded on
// original_source/memory-storage-redb's MAX_EPISODE_SIZE /
// MAX_PATTERN_SIZE / MAX_HEURISTIC_SIZE limits (the Rust implementation
// enforces them against bincode payloads; this one enforces them
// against JSON payloads, since no pack library offers a Rust-bincode-
// compatible Go codec) and on the teacher's encodeEmbedding length-
// prefixed style scaled up to whole records.
package embedded

import "github.com/cliairmonitor/epimem/internal/errors"

// Hard per-record-kind size caps, mirrored from
// memory-storage-redb's MAX_EPISODE_SIZE / MAX_PATTERN_SIZE /
// MAX_HEURISTIC_SIZE / MAX_EMBEDDING_SIZE.
const (
	MaxEpisodeSize   = 10 * 1024 * 1024
	MaxPatternSize   = 1 * 1024 * 1024
	MaxHeuristicSize = 100 * 1024
	MaxEmbeddingSize = 1 * 1024 * 1024
)

// recordKind tags what a stored blob is, for the size cap lookup and
// for the on-disk record header.
type recordKind byte

const (
	kindEpisode recordKind = iota + 1
	kindPattern
	kindHeuristic
	kindEmbedding
	kindRelationship
	kindTombstone
	kindSummary
)

func maxSizeFor(kind recordKind) int {
	switch kind {
	case kindEpisode:
		return MaxEpisodeSize
	case kindPattern:
		return MaxPatternSize
	case kindHeuristic:
		return MaxHeuristicSize
	case kindEmbedding:
		return MaxEmbeddingSize
	case kindRelationship:
		return MaxHeuristicSize // relationships are ID-only links; the heuristic cap is generous for them
	case kindSummary:
		return MaxPatternSize // a 100-200 word summary plus key steps fits comfortably under the pattern cap
	default:
		return MaxEpisodeSize
	}
}

// checkSize enforces the hard cap for kind, returning a Storage error
// naming the limit on violation, matching spec.md §4.1.b's
// "Storage(...exceeds maximum...)" wording.
func checkSize(kind recordKind, n int) error {
	if max := maxSizeFor(kind); n > max {
		return errors.New(errors.KindStorage, kindName(kind)+" payload exceeds maximum size")
	}
	return nil
}

func kindName(kind recordKind) string {
	switch kind {
	case kindEpisode:
		return "episode"
	case kindPattern:
		return "pattern"
	case kindHeuristic:
		return "heuristic"
	case kindEmbedding:
		return "embedding"
	case kindRelationship:
		return "relationship"
	case kindSummary:
		return "summary"
	default:
		return "record"
	}
}
