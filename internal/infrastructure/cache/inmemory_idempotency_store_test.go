package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()
	ctx := context.Background()

	t.Run("marks new event", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "event-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("rejects duplicate", func(t *testing.T) {
		_, err := store.MarkProcessed(ctx, "event-2", time.Hour)
		require.NoError(t, err)
		isNew, err := store.MarkProcessed(ctx, "event-2", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew)
	})

	t.Run("accepts again after expiry", func(t *testing.T) {
		_, err := store.MarkProcessed(ctx, "event-3", 10*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)

		isNew, err := store.MarkProcessed(ctx, "event-3", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "known", time.Hour)
	require.NoError(t, err)
	processed, err = store.IsProcessed(ctx, "known")
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = store.MarkProcessed(ctx, "short", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	processed, err = store.IsProcessed(ctx, "short")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_EvictExpired(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "old", time.Millisecond)
	_, _ = store.MarkProcessed(ctx, "fresh", time.Hour)
	require.Equal(t, 2, store.Size())

	store.evictExpired(time.Now().Add(time.Second))
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_CleanupLoop(t *testing.T) {
	store := NewInMemoryIdempotencyStore(5 * time.Millisecond)
	defer store.Close()

	_, _ = store.MarkProcessed(context.Background(), "old", time.Millisecond)
	assert.Eventually(t, func() bool { return store.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInMemoryIdempotencyStore_ConcurrentMarks(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.MarkProcessed(context.Background(), "same", time.Hour); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
