package registry

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - p/{project}/state
// - p/{project}/threshold
// - p/{project}/h/{seq_be8}/{idx_be8}

var (
	sep             = byte('/')
	projectPrefix   = []byte("p/")
	stateSuffix     = []byte("/state")
	thresholdSuffix = []byte("/threshold")
	hashSeg         = []byte("/h/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyProjectState builds the project state key.
func KeyProjectState(project string) []byte {
	k := make([]byte, 0, len(project)+16)
	k = append(k, projectPrefix...)
	k = append(k, project...)
	k = append(k, stateSuffix...)
	return k
}

// KeyThreshold builds the runtime rotation-threshold override key.
func KeyThreshold(project string) []byte {
	k := make([]byte, 0, len(project)+16)
	k = append(k, projectPrefix...)
	k = append(k, project...)
	k = append(k, thresholdSuffix...)
	return k
}

// KeyEntryHash builds the per-entry expected-hash key with big-endian
// sequence and index for proper ordering.
func KeyEntryHash(project string, seq, idx uint64) []byte {
	k := make([]byte, 0, len(project)+32)
	k = append(k, projectPrefix...)
	k = append(k, project...)
	k = append(k, hashSeg...)
	k = appendBE8(k, seq)
	k = append(k, sep)
	k = appendBE8(k, idx)
	return k
}

// keyAllProjectsBounds returns the iterator bounds covering every project key.
func keyAllProjectsBounds() (low, hi []byte) {
	low = append([]byte(nil), projectPrefix...)
	// '/'+1 == '0', so "p0" upper-bounds every "p/..." key.
	hi = []byte("p0")
	return low, hi
}
