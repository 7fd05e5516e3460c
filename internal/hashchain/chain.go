package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix marks chain hash strings with the digest algorithm.
const Prefix = "sha256:"

// IDLen is the length of the short content-derived entry identifier.
const IDLen = 16

// Genesis returns the fixed starting hash for a project's chain. It depends
// only on the project identifier, never on entry content.
func Genesis(project string) string {
	h := sha256.New()
	h.Write([]byte("scribelog/genesis\x00"))
	h.Write([]byte(project))
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// Link computes the next chain hash from the previous hash and an entry's
// canonical encoded bytes.
func Link(prev string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// SegmentRoot returns a segment's closing hash given its predecessor's hash
// and the ordered entry hashes it recorded. Because chaining is cumulative,
// the segment hash is the last entry's hash, or the predecessor's hash for an
// empty segment.
func SegmentRoot(prev string, entryHashes []string) string {
	if len(entryHashes) == 0 {
		return prev
	}
	return entryHashes[len(entryHashes)-1]
}

// ShortID derives the opaque entry identifier from its chain hash.
func ShortID(hash string) string {
	hexPart := strings.TrimPrefix(hash, Prefix)
	if len(hexPart) < IDLen {
		return hexPart
	}
	return hexPart[:IDLen]
}

// Valid reports whether s is a well-formed chain hash string.
func Valid(s string) bool {
	if !strings.HasPrefix(s, Prefix) {
		return false
	}
	hexPart := strings.TrimPrefix(s, Prefix)
	if len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
