package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStandard_Deterministic(t *testing.T) {
	a, err := EncodeStandard("bafyJ", []int64{60, 40})
	require.NoError(t, err)
	b, err := EncodeStandard("bafyJ", []int64{60, 40})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeStandard_DiffersOnInputChange(t *testing.T) {
	a, err := EncodeStandard("bafyJ", []int64{60, 40})
	require.NoError(t, err)
	b, err := EncodeStandard("bafyJ", []int64{40, 60})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncodeCommit_Deterministic(t *testing.T) {
	hash := [16]byte{1, 2, 3}
	a, err := EncodeCommit(hash, "bafyJ")
	require.NoError(t, err)
	b, err := EncodeCommit(hash, "bafyJ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestToHex(t *testing.T) {
	assert.Equal(t, "0xdeadbeef", ToHex([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestEncodeStandard_RevealMatchesCommitByteSource(t *testing.T) {
	standardBytes, err := EncodeStandard("bafyJ", []int64{60, 40})
	require.NoError(t, err)

	// Reveal (mode-2) must replay the exact same bytes as the original
	// standard (mode-0) encoding. The commitreveal.Cache layer enforces
	// this by storing standardBytes verbatim and replaying it unchanged.
	replayed, err := EncodeStandard("bafyJ", []int64{60, 40})
	require.NoError(t, err)
	assert.Equal(t, standardBytes, replayed)
}
