package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconly/internal/visitors"
)

func TestFingerprint(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	input := visitors.FingerprintInput{
		ServiceUUID: "svc-1",
		IP:          "203.0.113.7",
		UserAgent:   "Mozilla/5.0",
	}

	t.Run("deterministic for identical input", func(t *testing.T) {
		a := visitors.Fingerprint(input, "key", false, now)
		b := visitors.Fingerprint(input, "key", false, now)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("private key salts the digest", func(t *testing.T) {
		a := visitors.Fingerprint(input, "key-a", false, now)
		b := visitors.Fingerprint(input, "key-b", false, now)
		assert.NotEqual(t, a, b)
	})

	t.Run("aggressive salting rotates at the UTC day boundary", func(t *testing.T) {
		today := visitors.Fingerprint(input, "key", true, now)
		sameDay := visitors.Fingerprint(input, "key", true, now.Add(2*time.Hour))
		nextDay := visitors.Fingerprint(input, "key", true, now.Add(24*time.Hour))
		assert.Equal(t, today, sameDay)
		assert.NotEqual(t, today, nextDay)
	})

	t.Run("aggressive salting separates services", func(t *testing.T) {
		other := input
		other.ServiceUUID = "svc-2"
		assert.NotEqual(t,
			visitors.Fingerprint(input, "key", true, now),
			visitors.Fingerprint(other, "key", true, now))
	})
}

func TestIdentityCache(t *testing.T) {
	cache, err := visitors.NewIdentityCache(time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	key := visitors.CacheKey("svc-1", "abc123")

	_, found := cache.Get(key)
	assert.False(t, found)

	cache.Set(key, "session-1")
	got, found := cache.Get(key)
	require.True(t, found)
	assert.Equal(t, "session-1", got)

	cache.Touch(key, "session-1")
	got, found = cache.Get(key)
	require.True(t, found)
	assert.Equal(t, "session-1", got)
}

func TestIdentityCacheExpiry(t *testing.T) {
	cache, err := visitors.NewIdentityCache(50 * time.Millisecond)
	require.NoError(t, err)
	defer cache.Close()

	cache.Set("k", "session-1")
	time.Sleep(120 * time.Millisecond)

	_, found := cache.Get("k")
	assert.False(t, found)
}
