package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockPrefix    = "stockledger:lock:"
	defaultLockTTL       = 30 * time.Second
	defaultLockRetryWait = 25 * time.Millisecond
)

// unlockScript deletes the lock only while it still holds our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisKeyLocker serializes callers per key across instances. A lock expires
// after its TTL so a crashed holder cannot block the key forever.
type RedisKeyLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	retryWait time.Duration
	logger    *zap.Logger
}

// RedisKeyLockerOption configures a RedisKeyLocker
type RedisKeyLockerOption func(*RedisKeyLocker)

// WithLockTTL sets how long a lock is held before it expires
func WithLockTTL(ttl time.Duration) RedisKeyLockerOption {
	return func(l *RedisKeyLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockPrefix sets the key prefix
func WithLockPrefix(prefix string) RedisKeyLockerOption {
	return func(l *RedisKeyLocker) {
		if prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// NewRedisKeyLocker creates a locker on an existing client
func NewRedisKeyLocker(client redis.UniversalClient, logger *zap.Logger, opts ...RedisKeyLockerOption) *RedisKeyLocker {
	l := &RedisKeyLocker{
		client:    client,
		keyPrefix: defaultLockPrefix,
		ttl:       defaultLockTTL,
		retryWait: defaultLockRetryWait,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX until the key is acquired or ctx is done
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, shared.ErrLockTimeout
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, shared.ErrLockTimeout
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// the caller's ctx may already be done; release on a fresh one
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Close is a no-op; the client belongs to the caller
func (l *RedisKeyLocker) Close() error {
	return nil
}

// Ensure RedisKeyLocker implements KeyLocker
var _ shared.KeyLocker = (*RedisKeyLocker)(nil)
