package commitreveal

import (
	"sync"
	"time"
)

// Record is the cached outcome of a mode-1 (commit) evaluation. ResultBytes
// holds the exact bytes that would be returned by a standard (mode-0)
// evaluation of the same request; a mode-2 (reveal) replays them unchanged
// so the on-chain aggregator sees a bit-identical reveal. ErrRecord is
// never populated by the dispatcher: a mode-1 error is not stashed, and the
// reveal path replays only ResultBytes and JustificationCID.
type Record struct {
	ResultBytes      []byte
	JustificationCID string
	CommitHash       [16]byte
	TimestampNs      int64
	ErrRecord        []byte
}

// Cache is a short-TTL in-memory store for commit records, modeled on a
// mutex-guarded map with a background sweeper. Entries are evicted once
// their age reaches the configured TTL; a periodic sweeper additionally
// removes expired entries so long-idle caches don't grow unbounded between
// reads.
type Cache struct {
	mu      sync.RWMutex
	entries map[[32]byte]cachedRecord
	ttl     time.Duration
	done    chan struct{}
	closeOnce sync.Once
}

type cachedRecord struct {
	record    Record
	expiresAt time.Time
}

// NewCache creates a new commit-reveal cache with the given TTL. The
// background sweeper ticks at ttl/4, per the protocol's storage discipline.
// Call Close to stop the sweeper goroutine.
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[[32]byte]cachedRecord),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Put stores a commit record under the given fingerprint, starting its TTL
// countdown from now.
func (c *Cache) Put(fingerprint [32]byte, record Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cachedRecord{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Get returns the record stored under fingerprint and true, or a zero
// Record and false on miss or expiry. A record found exactly at its TTL
// boundary is treated as expired.
func (c *Cache) Get(fingerprint [32]byte) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[fingerprint]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return Record{}, false
	}
	return entry.record, true
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	interval := c.ttl / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		if now.After(v.expiresAt) || now.Equal(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
