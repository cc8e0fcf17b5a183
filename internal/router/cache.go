package router

import (
	"sync"
	"time"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

type State uint8

const (
	StateUnknown State = iota
	StateProbing
	StateConfirmed
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateConfirmed:
		return "confirmed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Entry is the cached resolution of one mint. Candidates is set while
// probing and restricts the venues a probe may try.
type Entry struct {
	Mint       solana.PublicKey
	State      State
	Venue      dex.VenueKind
	Pool       *dex.PoolDescriptor
	Candidates []dex.VenueKind
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// DiscoveryCache maps mints to resolved venues and pool descriptors. Entries
// expire after their TTL; the cache is never a source of truth.
type DiscoveryCache struct {
	mu      sync.RWMutex
	entries map[solana.PublicKey]Entry
	now     func() time.Time
}

func NewDiscoveryCache(now func() time.Time) *DiscoveryCache {
	if now == nil {
		now = time.Now
	}
	return &DiscoveryCache{
		entries: make(map[solana.PublicKey]Entry),
		now:     now,
	}
}

// Get returns the live entry for mint. Expired entries read as missing.
func (c *DiscoveryCache) Get(mint solana.PublicKey) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[mint]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if !entry.ExpiresAt.IsZero() && !c.now().Before(entry.ExpiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[mint]; ok && current.ExpiresAt.Equal(entry.ExpiresAt) {
			delete(c.entries, mint)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	entry.Pool = entry.Pool.Clone()
	return entry, true
}

// Put stores entry for ttl; a zero ttl never expires.
func (c *DiscoveryCache) Put(entry Entry, ttl time.Duration) {
	now := c.now()
	entry.InsertedAt = now
	entry.ExpiresAt = time.Time{}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	entry.Pool = entry.Pool.Clone()
	c.mu.Lock()
	c.entries[entry.Mint] = entry
	c.mu.Unlock()
}

func (c *DiscoveryCache) Invalidate(mint solana.PublicKey) {
	c.mu.Lock()
	delete(c.entries, mint)
	c.mu.Unlock()
}

func (c *DiscoveryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
