// Package encoder produces the deterministic CBOR bytes the oracle's
// Chainlink job transmits on-chain. Canonical encoding mode guarantees
// byte-identical output for identical inputs: no map-iteration
// nondeterminism, no incidental whitespace.
package encoder

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
)

var canonicalMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		// CanonicalEncOptions() always yields a valid EncMode; a failure
		// here means the cbor library itself is broken.
		panic("encoder: failed to build canonical CBOR encoding mode: " + err.Error())
	}
	canonicalMode = m
}

// standardResult is the mode-0/mode-2 wire shape: the justification CID
// plus the integer score vector, in that field order.
type standardResult struct {
	_                struct{} `cbor:",toarray"`
	JustificationCID string
	Scores           []int64
}

// commitResult is the mode-1 wire shape: the truncated commit hash plus
// the justification CID.
type commitResult struct {
	_                struct{} `cbor:",toarray"`
	CommitHash       []byte
	JustificationCID string
}

// EncodeStandard produces the mode-0 (and mode-2 reveal) result bytes:
// (justificationCid, scores). The returned bytes are what mode-1 hashes
// to produce the commit hash, and what mode-2 replays verbatim.
func EncodeStandard(justificationCID string, scores []int64) ([]byte, error) {
	return canonicalMode.Marshal(standardResult{JustificationCID: justificationCID, Scores: scores})
}

// EncodeCommit produces the mode-1 result bytes: (commitHash,
// justificationCid). commitHash is the 16-byte truncated hash of the
// EncodeStandard bytes for the same evaluation.
func EncodeCommit(commitHash [16]byte, justificationCID string) ([]byte, error) {
	return canonicalMode.Marshal(commitResult{CommitHash: commitHash[:], JustificationCID: justificationCID})
}

// ToHex is a convenience wrapper: the oracle HTTP contract carries result
// bytes as a hex string.
func ToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
