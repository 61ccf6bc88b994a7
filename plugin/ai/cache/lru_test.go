package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		c := NewLRU[string](2, time.Minute)
		c.Set("a", "1", 0)

		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, "1", v)

		_, ok = c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewLRU[int](2, time.Minute)
		c.Set("a", 1, 0)
		c.Set("b", 2, 0)
		_, _ = c.Get("a") // a becomes most recent
		c.Set("c", 3, 0)

		_, ok := c.Get("b")
		assert.False(t, ok)
		_, ok = c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("expired entries are dropped", func(t *testing.T) {
		c := NewLRU[int](2, time.Minute)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }
		c.Set("a", 1, time.Second)

		now = now.Add(2 * time.Second)
		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("overwrite refreshes value", func(t *testing.T) {
		c := NewLRU[int](2, time.Minute)
		c.Set("a", 1, 0)
		c.Set("a", 2, 0)
		v, _ := c.Get("a")
		assert.Equal(t, 2, v)
		assert.Equal(t, 1, c.Len())
	})
}

func TestVectorCache(t *testing.T) {
	c := NewVectorCache(10, time.Minute)

	c.Set("bge-m3", " hello ", []float32{1, 2})
	v, ok := c.Get("bge-m3", "hello")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	_, ok = c.Get("other-model", "hello")
	assert.False(t, ok)

	c.Set("bge-m3", "empty", nil)
	_, ok = c.Get("bge-m3", "empty")
	assert.False(t, ok)
}
