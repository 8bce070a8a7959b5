package durable

import (
	"encoding/binary"
	"math"
)

// encodeFloat32Vector / decodeFloat32Vector are the length-prefixed-free
// float32 blob codec lifted directly from the teacher's
// encodeEmbedding/decodeEmbedding in internal/memory/learning.go — the
// durable backend's embeddings_* tables store one vector per row, so
// the length is implicit in the blob length rather than a leading
// prefix (that prefix format belongs to the embedded backend, which
// multiplexes several record kinds into one flat file).
func encodeFloat32Vector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32Vector(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}
