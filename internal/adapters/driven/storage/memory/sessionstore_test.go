package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func testPlan(id string, created time.Time) *domain.Plan {
	return &domain.Plan{
		ID:        id,
		Filename:  id + ".docx",
		Model:     "test-model",
		Chunks:    []domain.Chunk{{PlanID: id, Index: 0, Text: "scaffold"}},
		CreatedAt: created,
	}
}

func TestSessionStore_RegisterAndGet(t *testing.T) {
	store := NewSessionStore()
	plan := testPlan("abc", time.Now())

	require.NoError(t, store.Register(plan))

	got, err := store.Get("abc")
	require.NoError(t, err)
	assert.Same(t, plan, got)
	assert.Equal(t, 1, store.Len())
}

func TestSessionStore_RegisterInvalid(t *testing.T) {
	store := NewSessionStore()
	assert.ErrorIs(t, store.Register(nil), domain.ErrInvalidArgument)
	assert.ErrorIs(t, store.Register(&domain.Plan{}), domain.ErrInvalidArgument)
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store := NewSessionStore()
	_, err := store.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionStore_Evict(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.Register(testPlan("abc", time.Now())))

	require.NoError(t, store.Evict("abc"))
	_, err := store.Get("abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, store.Evict("abc"), domain.ErrNotFound)
}

func TestSessionStore_ListOrdered(t *testing.T) {
	store := NewSessionStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Register(testPlan("c", base.Add(2*time.Minute))))
	require.NoError(t, store.Register(testPlan("a", base)))
	require.NoError(t, store.Register(testPlan("b", base.Add(time.Minute))))

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
	assert.Equal(t, 1, list[0].ChunkCount)
	assert.Equal(t, "a.docx", list[0].Filename)
}

func TestSessionStore_Clear(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.Register(testPlan("a", time.Now())))
	require.NoError(t, store.Register(testPlan("b", time.Now())))

	assert.Equal(t, 2, store.Clear())
	assert.Empty(t, store.List())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, store.Clear())
}

func TestSessionStore_PlansSpreadAcrossShards(t *testing.T) {
	store := NewSessionStore()
	for i := 0; i < 200; i++ {
		require.NoError(t, store.Register(testPlan(fmt.Sprintf("plan-%03d", i), time.Now())))
	}

	used := 0
	for i := range store.shards {
		if len(store.shards[i].plans) > 0 {
			used++
		}
	}
	assert.Greater(t, used, 1)
	assert.Equal(t, 200, store.Len())
	assert.Len(t, store.List(), 200)
}

func TestSessionStore_ReadsProceedWhileAnotherShardIsWritten(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.Register(testPlan("reader", time.Now())))

	// find an id on a different shard and hold its shard's write lock
	var other *shard
	for i := 0; other == nil; i++ {
		if sh := store.shardFor(fmt.Sprintf("w-%d", i)); sh != store.shardFor("reader") {
			other = sh
		}
	}
	other.mu.Lock()
	defer other.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_, _ = store.Get("reader")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read blocked behind a write on another shard")
	}
}

func TestSessionStore_LockSerialisesOneID(t *testing.T) {
	store := NewSessionStore()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := store.Lock("same")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	for i := range store.shards {
		assert.Empty(t, store.shards[i].locks, "lock entries should be released")
	}
}

func TestSessionStore_LockDistinctIDsDoNotBlock(t *testing.T) {
	store := NewSessionStore()
	unlockA := store.Lock("plan-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := store.Lock("plan-b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on plan-b blocked behind plan-a")
	}
}

func TestSessionStore_UnlockIdempotent(t *testing.T) {
	store := NewSessionStore()
	unlock := store.Lock("x")
	unlock()
	unlock()

	relock := store.Lock("x")
	relock()
}

func TestSessionStore_ConcurrentReadersAndWriters(t *testing.T) {
	store := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(2)
		id := fmt.Sprintf("plan-%d", i%5)
		go func() {
			defer wg.Done()
			unlock := store.Lock(id)
			defer unlock()
			_ = store.Register(testPlan(id, time.Now()))
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Get(id)
			_ = store.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, store.Len())
}
