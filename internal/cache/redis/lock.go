package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/solscope/papertrade/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// unique token. This prevents one holder from accidentally releasing
// another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the caller still owns the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// acquireRetryDelay is the base delay between acquisition attempts in
// AcquireWait.
const acquireRetryDelay = 50 * time.Millisecond

// LockManager implements domain.LockManager using Redis SETNX with a TTL,
// Lua-based conditional unlock, and a watchdog goroutine that extends the
// TTL while the lock is held so it survives slow I/O without expiring.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be
// called to release the lock; until then a background watchdog extends the
// TTL every ttl/3. The unlock function is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another
// party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	// Watchdog: extend while held. Two consecutive missed extensions still
	// leave the TTL intact.
	stop := make(chan struct{})
	go lm.watchdog(lk, token, ttl, stop)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)

			// Use a background context so unlock succeeds even if the
			// caller's context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}

	return unlock, nil
}

// AcquireWait retries Acquire with a short delay until the budget elapses,
// then fails with domain.ErrLockTimeout.
func (lm *LockManager) AcquireWait(ctx context.Context, key string, ttl, budget time.Duration) (func(), error) {
	deadline := time.Now().Add(budget)

	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if time.Now().Add(acquireRetryDelay).After(deadline) {
			return nil, fmt.Errorf("redis: lock %s not acquired within %s: %w", key, budget, domain.ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-time.After(acquireRetryDelay):
		}
	}
}

// watchdog extends the lock TTL every ttl/3 until stop is closed or the
// lock is no longer owned.
func (lm *LockManager) watchdog(lk, token string, ttl time.Duration, stop <-chan struct{}) {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				continue
			}
			if n == 0 {
				// Lost ownership; nothing left to extend.
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
