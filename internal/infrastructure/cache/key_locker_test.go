package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryKeyLocker_SerializesKey(t *testing.T) {
	locker := NewInMemoryKeyLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside, total := 0, 0, 0
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "pending:1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			total++
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 20, total)
	assert.Zero(t, locker.Len())
}

func TestInMemoryKeyLocker_IndependentKeys(t *testing.T) {
	locker := NewInMemoryKeyLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctxB, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctxB, "b")
	require.NoError(t, err)
	unlockB()
}

func TestInMemoryKeyLocker_Timeout(t *testing.T) {
	locker := NewInMemoryKeyLocker()
	unlock, err := locker.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "busy")
	assert.ErrorIs(t, err, shared.ErrLockTimeout)

	unlock()
	unlock()
	assert.Zero(t, locker.Len())

	again, err := locker.Lock(context.Background(), "busy")
	require.NoError(t, err)
	again()
}

func TestStoreFactory_InMemoryWithoutRedis(t *testing.T) {
	stores, err := NewStoreFactory(config.RedisConfig{}).Create(context.Background())
	require.NoError(t, err)
	defer stores.Close()

	assert.False(t, stores.Distributed())
	assert.IsType(t, &InMemoryIdempotencyStore{}, stores.Idempotency)
	assert.IsType(t, &InMemoryKeyLocker{}, stores.Locker)
}

func TestStoreFactory_UnreachableRedis(t *testing.T) {
	cfg := config.RedisConfig{Host: "127.0.0.1", Port: 1}

	_, err := NewStoreFactory(cfg).Create(context.Background())
	assert.Error(t, err)

	stores, err := NewStoreFactory(cfg, WithInMemoryFallback(true)).Create(context.Background())
	require.NoError(t, err)
	defer stores.Close()
	assert.False(t, stores.Distributed())
}
