package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the idempotency store and key locker of one process.
// Both are backed by Redis when it is configured, by memory otherwise.
type Stores struct {
	Idempotency shared.IdempotencyStore
	Locker      shared.KeyLocker
	client      redis.UniversalClient
}

// Close releases the stores and the Redis client
func (s *Stores) Close() error {
	_ = s.Idempotency.Close()
	_ = s.Locker.Close()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Distributed reports whether the stores are shared between instances
func (s *Stores) Distributed() bool {
	return s.client != nil
}

// StoreFactory creates Stores from configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	lockTTL               time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory and its stores
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// memory. Default is false: a configured Redis must be reachable.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithScanLockTTL sets the expiry of distributed scan locks
func WithScanLockTTL(ttl time.Duration) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.lockTTL = ttl
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns Redis-backed stores when a Redis host is configured and in-memory ones otherwise
func (f *StoreFactory) Create(ctx context.Context) (*Stores, error) {
	addr := f.redisConfig.Addr()
	if addr == "" {
		f.logger.Info("no Redis configured, using in-memory idempotency store and scan locks")
		return f.inMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory stores; "+
			"scans and deliveries are only deduplicated within this instance",
			zap.String("addr", addr),
			zap.Error(err),
		)
		return f.inMemory(), nil
	}

	f.logger.Info("using Redis idempotency store and scan locks", zap.String("addr", addr))
	return &Stores{
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Locker:      NewRedisKeyLocker(client, f.logger, WithLockTTL(f.lockTTL)),
		client:      client,
	}, nil
}

func (f *StoreFactory) inMemory() *Stores {
	return &Stores{
		Idempotency: NewInMemoryIdempotencyStore(0),
		Locker:      NewInMemoryKeyLocker(),
	}
}
