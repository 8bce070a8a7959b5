package durable

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
)

// fingerprintKey is a zero key for HighwayHash: fingerprinting here is
// about collision-avoidance and cache-key stability, not adversarial
// resistance, so a fixed key is fine — the same tradeoff the teacher's
// dependency graph already accepts wherever it pulls in highwayhash
// transitively.
var fingerprintKey = make([]byte, 32)

// sqlFingerprint hashes a query (and its string-typed args, which is
// all record-level arguments ever are in this backend) into a compact
// fixed-size cache key for the prepared-statement cache and the SQL
// query cache.
func sqlFingerprint(query string) uint64 {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		// fingerprintKey is a fixed 32-byte slice, so New64 cannot fail
		// in practice; panicking here would only hide a programmer error.
		return 0
	}
	_, _ = h.Write([]byte(query))
	return h.Sum64()
}

func fingerprintHex(n uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i, b := range buf {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
