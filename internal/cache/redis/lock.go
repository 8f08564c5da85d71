package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lease only if it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry of a lease forward if the caller still owns it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager hands out per-key leases shared by every process pointed at
// the same Redis. A lease is renewed in the background while held, so a slow
// trade does not lose its pair to another instance; if the process dies the
// lease expires after its TTL.
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

// Acquire takes the lease for key. The returned unlock is safe to call more
// than once and from any goroutine. A held lease yields an error wrapping
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.renew(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// renew extends the lease every third of its TTL until stop is closed or the
// lease is found to belong to someone else.
func (lm *LockManager) renew(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// Held reports whether key currently has a live lease.
func (lm *LockManager) Held(ctx context.Context, key string) (bool, error) {
	n, err := lm.rdb.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: lock exists %s: %w", key, err)
	}
	return n > 0, nil
}

var _ domain.LockManager = (*LockManager)(nil)
