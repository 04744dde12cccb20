package visitors

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// IdentityCache maps visitor fingerprints to session UUIDs for the duration
// of a session. Entries expire on their own; expiry is what ends a session.
type IdentityCache interface {
	Get(key string) (string, bool)
	Set(key, sessionUUID string)
	// Touch resets the entry's TTL without changing its value.
	Touch(key string, sessionUUID string)
	Close()
}

type ristrettoCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewIdentityCache builds the in-memory fingerprint cache. Identities live
// only here, never on disk, so a restart simply starts fresh sessions.
func NewIdentityCache(ttl time.Duration) (IdentityCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,
		MaxCost:     1 << 28,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoCache{cache: cache, ttl: ttl}, nil
}

func (c *ristrettoCache) Get(key string) (string, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return "", false
	}
	sessionUUID, ok := value.(string)
	return sessionUUID, ok
}

func (c *ristrettoCache) Set(key, sessionUUID string) {
	c.cache.SetWithTTL(key, sessionUUID, 1, c.ttl)
	// Sets are buffered; wait so a hit arriving right after sees the entry.
	c.cache.Wait()
}

func (c *ristrettoCache) Touch(key string, sessionUUID string) {
	c.cache.SetWithTTL(key, sessionUUID, 1, c.ttl)
	c.cache.Wait()
}

func (c *ristrettoCache) Close() {
	c.cache.Close()
}
