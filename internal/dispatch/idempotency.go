package dispatch

import (
	"sync"
	"time"
)

type idemEntry struct {
	rideID string
	expiry time.Time
}

// IdemCache is a process-local idempotency cache for the ride-creation
// endpoint: an Idempotency-Key header maps to the ride id it originally
// created, so a retried request returns the existing ride instead of
// creating a duplicate.
type IdemCache struct {
	mu    sync.Mutex
	byKey map[string]idemEntry
	ttl   time.Duration
}

func NewIdemCache() *IdemCache {
	return &IdemCache{
		byKey: make(map[string]idemEntry),
		ttl:   30 * time.Minute,
	}
}

// SetTTL overrides ttl used for cache entries.
func (c *IdemCache) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// Remember stores key->ride mapping.
func (c *IdemCache) Remember(key, rideID string) {
	if key == "" || rideID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key] = idemEntry{rideID: rideID, expiry: time.Now().Add(c.ttl)}
}

// Lookup returns ride id if key exists and not expired.
func (c *IdemCache) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byKey[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiry) {
		delete(c.byKey, key)
		return "", false
	}
	return entry.rideID, true
}
