package cache

import (
	"context"
	"sync"

	"github.com/erp/stockledger/internal/domain/shared"
)

// InMemoryKeyLocker serializes callers per key within one process
type InMemoryKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a one-slot semaphore shared by the waiters of a key
type keyLock struct {
	slot    chan struct{}
	waiters int
}

// NewInMemoryKeyLocker creates an in-process key locker
func NewInMemoryKeyLocker() *InMemoryKeyLocker {
	return &InMemoryKeyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done
func (l *InMemoryKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.waiters++
	l.mu.Unlock()

	select {
	case kl.slot <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, kl)
		return nil, shared.ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.slot
			l.leave(key, kl)
		})
	}, nil
}

// leave drops the entry once nobody holds or waits for the key
func (l *InMemoryKeyLocker) leave(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.waiters--
	if kl.waiters == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited
func (l *InMemoryKeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Close is a no-op
func (l *InMemoryKeyLocker) Close() error {
	return nil
}

// Ensure InMemoryKeyLocker implements KeyLocker
var _ shared.KeyLocker = (*InMemoryKeyLocker)(nil)
