package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

const defaultLockPrefix = "konozy:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the key holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Ensure RedisRunLock implements RunLock
var _ RunLock = (*RedisRunLock)(nil)

// RedisRunLock implements RunLock with SET NX PX, shared by every instance
// pointed at the same Redis.
type RedisRunLock struct {
	client    redis.Cmdable
	keyPrefix string
	now       func() time.Time
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisRunLock creates a lock backed by client
func NewRedisRunLock(client redis.Cmdable, keyPrefix string) *RedisRunLock {
	if keyPrefix == "" {
		keyPrefix = defaultLockPrefix
	}
	return &RedisRunLock{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Acquire takes the lock for ttl if nobody holds it
func (l *RedisRunLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidLockTTL
	}
	lease := Lease{
		Key:       key,
		Token:     newLockToken(),
		ExpiresAt: l.now().Add(ttl),
	}

	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Release deletes the lock if the lease still owns it
func (l *RedisRunLock) Release(ctx context.Context, lease Lease) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + lease.Key}, lease.Token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lease.Key, err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock expiry if the lease still owns it
func (l *RedisRunLock) Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return Lease{}, ErrInvalidLockTTL
	}
	extended, err := extendScript.Run(ctx, l.client, []string{l.keyPrefix + lease.Key}, lease.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return Lease{}, fmt.Errorf("failed to extend lock %s: %w", lease.Key, err)
	}
	if extended == 0 {
		return Lease{}, ErrLockNotHeld
	}
	lease.ExpiresAt = l.now().Add(ttl)
	return lease, nil
}
