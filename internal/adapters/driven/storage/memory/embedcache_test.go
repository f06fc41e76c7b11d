package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_GetManyReturnsHitsOnly(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache()
	require.NoError(t, cache.PutMany(ctx, map[string][]float32{"k1": {1, 2}}))

	got, err := cache.GetMany(ctx, []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{"k1": {1, 2}}, got)
}

func TestEmbeddingCache_WriteOnce(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache()
	require.NoError(t, cache.PutMany(ctx, map[string][]float32{"k": {1, 0}}))
	require.NoError(t, cache.PutMany(ctx, map[string][]float32{"k": {0, 1}}))

	got, err := cache.GetMany(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got["k"])

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbeddingCache_CopiesVectors(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache()
	v := []float32{1, 2, 3}
	require.NoError(t, cache.PutMany(ctx, map[string][]float32{"k": v}))
	v[0] = 99

	got, err := cache.GetMany(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), got["k"][0])

	got["k"][1] = 42
	again, err := cache.GetMany(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, float32(2), again["k"][1])
}

func TestEmbeddingCache_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.PutMany(ctx, map[string][]float32{"shared": {0.5, 0.5}})
		}()
	}
	wg.Wait()

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
