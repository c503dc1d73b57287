package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisReleaseScript deletes the lease only when the stored token still
// matches the caller's. A mismatch means the lease expired and was taken
// by another holder; releasing it would steal their lease.
// KEYS[1] = lease key
// ARGV[1] = holder token
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisRenewScript extends the lease TTL only for the current holder.
// KEYS[1] = lease key
// ARGV[1] = holder token
// ARGV[2] = ttl in milliseconds
var redisRenewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker using Redis SET NX PX plus Lua scripts
// for token-checked release and renewal.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a new locker backed by Redis.
func NewRedisLocker(addr string, password string, db int) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLocker{client: rdb, prefix: "lease:"}
}

// NewRedisLockerFromClient wraps an existing client, for shared pools.
func NewRedisLockerFromClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lease:"}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := redisReleaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis lease release %s: %w", key, err)
	}
	return nil
}

// Renew implements Locker.
func (l *RedisLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := redisRenewScript.Run(ctx, l.client, []string{l.prefix + key}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease renew %s: %w", key, err)
	}
	extended, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return extended == 1, nil
}
