package embedded

import (
	"encoding/binary"
	"math"
)

// encodeVector / decodeVector mirror the teacher's encodeEmbedding /
// decodeEmbedding float32 codec (internal/memory/learning.go), reused
// here for the embedded backend's embedding payloads.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
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
