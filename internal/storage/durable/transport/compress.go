// Package transport implements the durable backend's pluggable blob
// transport: embedding blobs above a size threshold are transparently
// compressed in flight, mirroring the teacher's approach of wrapping
// raw bytes at the storage boundary (internal/memory's encodeEmbedding
// / decodeEmbedding pair, scaled here to a compressing variant).
package transport

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// flagUncompressed / flagCompressed prefix every blob written through
// Encode so Decode never has to guess.
const (
	flagUncompressed byte = 0
	flagCompressed   byte = 1
)

// Codec transparently compresses blobs at or above Threshold bytes
// using zstd, and passes smaller blobs through unchanged. Round-trip
// is always exact regardless of whether compression applied.
type Codec struct {
	Threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec builds a Codec with the given compression threshold in
// bytes (spec.md §4.1.a default: 1 KiB).
func NewCodec(thresholdBytes int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Codec{Threshold: thresholdBytes, encoder: enc, decoder: dec}, nil
}

// Close releases the decoder's background goroutines.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// Encode prefixes raw with a one-byte flag and, if raw is at least
// Threshold bytes, its zstd-compressed form; otherwise raw passes
// through unchanged.
func (c *Codec) Encode(raw []byte) []byte {
	if len(raw) < c.Threshold {
		out := make([]byte, 1+len(raw))
		out[0] = flagUncompressed
		copy(out[1:], raw)
		return out
	}

	compressed := c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	out := make([]byte, 1+len(compressed))
	out[0] = flagCompressed
	copy(out[1:], compressed)
	return out
}

// Decode reverses Encode, decompressing when the blob's flag byte
// says it was compressed.
func (c *Codec) Decode(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	flag, body := blob[0], blob[1:]
	if flag == flagUncompressed {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	return c.decoder.DecodeAll(body, nil)
}

// BandwidthSavingsPercent reports how much smaller compressed is than
// raw, as a percentage, for test assertions like spec.md §8's
// "≥40% savings" scenario.
func BandwidthSavingsPercent(rawLen, compressedLen int) float64 {
	if rawLen == 0 {
		return 0
	}
	saved := rawLen - compressedLen
	return 100 * float64(saved) / float64(rawLen)
}
