// Package lock provides a Redis-backed mutual exclusion lock keyed by string.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the key stays locked for the whole wait.
var ErrLockHeld = errors.New("lock held by another holder")

const retryInterval = 25 * time.Millisecond

// releaseScript deletes the key only if it still carries the caller's token,
// so an expired holder never frees a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out per-key locks with a TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(redisURL string, ttl, wait time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLockerWithClient(client, ttl, wait), nil
}

// NewRedisLockerWithClient creates a locker from an existing Redis client
func NewRedisLockerWithClient(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "lock:",
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// Acquire blocks until the lock for name is taken, the configured wait
// elapses (ErrLockHeld) or ctx is done. The returned release func is safe to
// call once the lock has expired.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	key := l.key(name)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.release(ctx, key, token)
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, name)
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
