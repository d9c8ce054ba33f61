// Package lock provides short lived Redis mutexes keyed by string.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-freight/odyssey-freight/internal/shared"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker acquires SET NX PX locks. A nil client makes every lock a no-op so a
// single process deployment can run without Redis.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewLocker builds a Locker. ttl bounds how long a crashed holder blocks
// others; wait bounds how long Acquire retries.
func NewLocker(client redis.UniversalClient, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// Release unlocks a held lock.
type Release func(context.Context) error

// Acquire takes the lock for key, retrying until wait elapses. It returns
// shared.ErrLockBusy when the lock stays held.
func (l *Locker) Acquire(ctx context.Context, key string) (Release, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock: %s: %w", key, shared.ErrLockBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
