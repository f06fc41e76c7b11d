package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure EmbeddingCache implements the interface.
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache is an in-memory, write-once embedding cache.
// The first vector stored for a key wins.
type EmbeddingCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewEmbeddingCache creates an empty cache.
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{
		vectors: make(map[string][]float32),
	}
}

// GetMany returns copies of the cached vectors for the keys that are present.
func (c *EmbeddingCache) GetMany(_ context.Context, keys []string) (map[string][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]float32, len(keys))
	for _, k := range keys {
		if v, ok := c.vectors[k]; ok {
			out[k] = append([]float32(nil), v...)
		}
	}
	return out, nil
}

// PutMany stores entries whose keys are not cached yet.
func (c *EmbeddingCache) PutMany(_ context.Context, entries map[string][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		if _, ok := c.vectors[k]; ok {
			continue
		}
		c.vectors[k] = append([]float32(nil), v...)
	}
	return nil
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors), nil
}
