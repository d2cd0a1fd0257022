package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheBasicOperations(t *testing.T) {
	c := New(100, time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set("key1", []byte("value1"), time.Minute, "")

		entry, ok := c.Get("key1", false)
		require.True(t, ok)
		assert.Equal(t, []byte("value1"), entry.Value)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		_, ok := c.Get("nonexistent", false)
		assert.False(t, ok)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		c.Set("key2", []byte("original"), time.Minute, "")
		c.Set("key2", []byte("updated"), time.Minute, `W/"abc"`)

		entry, ok := c.Get("key2", false)
		require.True(t, ok)
		assert.Equal(t, []byte("updated"), entry.Value)
		assert.Equal(t, `W/"abc"`, entry.ETag)
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set("key3", []byte("v"), time.Minute, "")
		c.Delete("key3")
		_, ok := c.Get("key3", false)
		assert.False(t, ok)
	})
}

func TestCacheExpiration(t *testing.T) {
	c := New(100, time.Minute)
	c.Set("expiring", []byte("value"), 30*time.Millisecond, `W/"etag"`)

	_, ok := c.Get("expiring", false)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	// A normal read past expiry misses and evicts nothing usable.
	_, ok = c.Get("expiring", false)
	assert.False(t, ok)
}

func TestCacheStaleRead(t *testing.T) {
	c := New(100, time.Minute)
	c.Set("stale", []byte("old"), 30*time.Millisecond, `W/"etag"`)

	time.Sleep(40 * time.Millisecond)

	// Stale access still sees the entry and its ETag.
	entry, ok := c.Get("stale", true)
	require.True(t, ok)
	assert.Equal(t, []byte("old"), entry.Value)
	assert.Equal(t, `W/"etag"`, entry.ETag)

	// The stale entry survives stale reads until a non-stale read evicts it.
	_, ok = c.Get("stale", false)
	assert.False(t, ok)
	_, ok = c.Get("stale", true)
	assert.False(t, ok)
}

func TestCacheCapacityBound(t *testing.T) {
	c := New(3, time.Minute)

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key%d", i), []byte("v"), time.Minute, "")
		assert.LessOrEqual(t, c.Size(), 3)
	}
}

func TestCacheEvictsNearestExpiry(t *testing.T) {
	c := New(3, time.Minute)

	c.Set("long", []byte("1"), time.Hour, "")
	c.Set("short", []byte("2"), time.Second, "")
	c.Set("medium", []byte("3"), time.Minute, "")

	// Overflow evicts the entry with the nearest expiry, not the oldest insert.
	c.Set("new", []byte("4"), time.Hour, "")

	_, ok := c.Get("short", false)
	assert.False(t, ok)
	_, ok = c.Get("long", false)
	assert.True(t, ok)
	_, ok = c.Get("medium", false)
	assert.True(t, ok)
	_, ok = c.Get("new", false)
	assert.True(t, ok)
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := New(2, time.Minute)

	c.Set("a", []byte("1"), time.Second, "")
	c.Set("b", []byte("2"), time.Hour, "")

	// Overwriting an existing key at capacity must not evict a sibling.
	c.Set("b", []byte("2b"), time.Hour, "")

	_, ok := c.Get("a", false)
	assert.True(t, ok)
	entry, ok := c.Get("b", false)
	require.True(t, ok)
	assert.Equal(t, []byte("2b"), entry.Value)
}
