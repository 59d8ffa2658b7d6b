package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// ContentHash computes an order-independent hash over a set of canonical
// entry strings. Entries are sorted before hashing, so the result is
// invariant under permutation of the input.
func ContentHash(entries []string) string {
	sorted := make([]string, len(entries))
	copy(sorted, entries)
	sort.Strings(sorted)

	h := sha256.New()
	for _, entry := range sorted {
		// Length-prefix each entry so concatenation ambiguity cannot
		// produce colliding sets.
		var lenBuf [4]byte
		n := len(entry)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write([]byte(entry))
	}

	return hex.EncodeToString(h.Sum(nil))
}
