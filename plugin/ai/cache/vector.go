package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// VectorCache memoizes query embeddings so repeated retrievals for the same
// query text skip the embedding call.
type VectorCache struct {
	lru *LRU[[]float32]
	ttl time.Duration
}

// NewVectorCache creates a vector cache holding up to capacity vectors.
func NewVectorCache(capacity int, ttl time.Duration) *VectorCache {
	return &VectorCache{lru: NewLRU[[]float32](capacity, ttl), ttl: ttl}
}

// Get returns the cached vector for (model, text).
func (c *VectorCache) Get(model, text string) ([]float32, bool) {
	return c.lru.Get(vectorKey(model, text))
}

// Set caches the vector for (model, text). Empty vectors are not cached.
func (c *VectorCache) Set(model, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	c.lru.Set(vectorKey(model, text), vec, c.ttl)
}

func vectorKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
