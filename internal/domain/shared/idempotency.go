package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed event IDs to prevent duplicate processing
type IdempotencyStore interface {
	// MarkProcessed marks an event as processed with a TTL.
	// Returns true if the event was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event has already been processed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	Close() error
}

// IdempotencyConfig holds configuration for idempotent event handling
type IdempotencyConfig struct {
	// TTL after which the same event ID can be processed again
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}

// KeyLocker provides mutual exclusion per key.
// Lock blocks until the key is free or ctx is done; the returned function
// releases the lock and is safe to call more than once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Close() error
}

// ErrLockTimeout is returned when a key lock cannot be acquired in time
var ErrLockTimeout = NewDomainError("LOCK_TIMEOUT", "Timed out waiting for lock")
