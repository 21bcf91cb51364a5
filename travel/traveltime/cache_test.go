package traveltime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := newLRUCache[string, int](4, time.Minute)

	c.set("a", 1, 0)
	c.set("b", 2, 0)

	v, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.size())
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := newLRUCache[string, int](4, time.Minute)

	c.set("a", 1, 0)
	c.set("a", 9, 0)

	v, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, 9, v)
	assert.Equal(t, 1, c.size())
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache[string, int](2, time.Minute)

	c.set("a", 1, 0)
	c.set("b", 2, 0)

	// Touch a so b becomes the eviction victim.
	_, ok := c.get("a")
	require.True(t, ok)

	c.set("c", 3, 0)

	assert.True(t, c.contains("a"))
	assert.False(t, c.contains("b"))
	assert.True(t, c.contains("c"))
	assert.Equal(t, 2, c.size())
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := newLRUCache[string, int](4, 20*time.Millisecond)

	c.set("a", 1, 0)
	c.set("b", 2, time.Minute)

	time.Sleep(40 * time.Millisecond)

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
}

func TestLRUCacheCleanupExpired(t *testing.T) {
	c := newLRUCache[string, int](8, time.Minute)

	c.set("a", 1, 10*time.Millisecond)
	c.set("b", 2, 10*time.Millisecond)
	c.set("c", 3, time.Hour)

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 2, c.cleanupExpired())
	assert.Equal(t, 1, c.size())
	assert.True(t, c.contains("c"))
}

func TestLRUCacheEntriesSnapshot(t *testing.T) {
	c := newLRUCache[string, int](4, time.Minute)

	c.set("a", 1, 0)
	c.set("b", 2, 0)

	got := c.entries()
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, got)
}
