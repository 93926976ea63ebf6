// Package commitreveal implements the three-mode (standard/commit/reveal)
// oracle protocol's in-memory state: deterministic fingerprint derivation
// and a TTL-bounded cache that guarantees a reveal response is bit-identical
// to its earlier commit.
package commitreveal

import (
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives the deterministic cache key for a commit/reveal pair:
// H(requestID ∥ primaryCID ∥ sort(bCIDs) ∥ classID). Sorting the bCIDs makes
// the fingerprint invariant under permutation of bCID order in the request.
func Fingerprint(requestID, primaryCID string, bCIDs []string, classID int) [32]byte {
	sorted := append([]string(nil), bCIDs...)
	sort.Strings(sorted)

	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on an invalid key length, and we pass
		// nil (unkeyed hashing), so this is unreachable.
		panic(fmt.Sprintf("commitreveal: blake2b.New256: %v", err))
	}
	h.Write([]byte(requestID))
	h.Write([]byte{0})
	h.Write([]byte(primaryCID))
	h.Write([]byte{0})
	for _, b := range sorted {
		h.Write([]byte(b))
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.Itoa(classID)))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CommitHash derives the short (16-byte) hash published on-chain at
// commit time: the first 16 bytes of blake2b-256(resultBytes). This is
// sufficient for the on-chain aggregator's reveal check.
func CommitHash(resultBytes []byte) [16]byte {
	sum := blake2b.Sum256(resultBytes)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}
