package domain

import (
	"context"
	"time"
)

// TickCache is one tier of the price cache, holding the latest tick per
// asset. Set must reject ticks older than the cached one so that reordered
// writes never regress ObservedAt.
type TickCache interface {
	// Get returns the cached tick or ErrNotFound.
	Get(ctx context.Context, assetID string) (PriceTick, error)
	// Set stores the tick if it is newer than the cached one. It reports
	// whether the tick was accepted.
	Set(ctx context.Context, tick PriceTick) (bool, error)
}

// LockManager provides distributed mutual exclusion. The returned unlock
// function must always be called and is safe to call more than once.
type LockManager interface {
	// Acquire obtains the lock or fails immediately with ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// AcquireWait retries acquisition with backoff until the budget is
	// exhausted, then fails with ErrLockTimeout. While held the lock is
	// auto-extended so it outlives slow I/O without expiring.
	AcquireWait(ctx context.Context, key string, ttl, budget time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between sibling instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads. It is closed when ctx
	// is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
