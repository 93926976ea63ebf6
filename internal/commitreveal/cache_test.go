package commitreveal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	fp := Fingerprint("req-1", "bafyP", nil, 0)
	rec := Record{ResultBytes: []byte("abc"), JustificationCID: "bafyJ"}
	c.Put(fp, rec)

	got, ok := c.Get(fp)
	require.True(t, ok)
	assert.Equal(t, rec.ResultBytes, got.ResultBytes)
	assert.Equal(t, rec.JustificationCID, got.JustificationCID)
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	fp := Fingerprint("never-seen", "bafyX", nil, 0)
	_, ok := c.Get(fp)
	assert.False(t, ok)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	defer c.Close()

	fp := Fingerprint("req-1", "bafyP", nil, 0)
	c.Put(fp, Record{ResultBytes: []byte("abc")})

	_, ok := c.Get(fp)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get(fp)
	assert.False(t, ok)
}

func TestCache_BitIdenticalRevealReplay(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	fp := Fingerprint("req-1", "bafyP", []string{"bafyB"}, 3)
	standardBytes := []byte{0x01, 0x02, 0x03, 0x04}
	c.Put(fp, Record{
		ResultBytes: standardBytes,
		CommitHash:  CommitHash(standardBytes),
	})

	replayed, ok := c.Get(fp)
	require.True(t, ok)
	assert.Equal(t, standardBytes, replayed.ResultBytes)
	assert.Equal(t, CommitHash(standardBytes), replayed.CommitHash)
}

func TestCache_SweeperRemovesExpiredEntries(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	defer c.Close()

	fp := Fingerprint("req-1", "bafyP", nil, 0)
	c.Put(fp, Record{ResultBytes: []byte("abc")})

	time.Sleep(150 * time.Millisecond) // several sweep intervals (ttl/4 = 5ms)

	c.mu.RLock()
	_, stillPresent := c.entries[fp]
	c.mu.RUnlock()
	assert.False(t, stillPresent)
}
