package vault

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTimeout bounds each Redis round trip.
const DefaultRedisTimeout = 5 * time.Second

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Prefix    string        // prepended to every record name as "<prefix>:"
	OpTimeout time.Duration // per-call timeout; the store itself never retries
}

// RedisStore keeps records as plain Redis strings without expiry.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore returns a store backed by rdb.
func NewRedisStore(rdb redis.UniversalClient, cfg RedisConfig) *RedisStore {
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	return &RedisStore{rdb: rdb, prefix: cfg.Prefix, timeout: timeout}
}

func (r *RedisStore) redisKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Write implements Store.
func (r *RedisStore) Write(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return storeErr("redis", "write", key, r.rdb.Set(ctx, r.redisKey(key), value, 0).Err())
}

// Read implements Store.
func (r *RedisStore) Read(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	value, err := r.rdb.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("redis", "read", key, err)
	}
	return value, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	// DEL on a missing key returns 0, not an error.
	return storeErr("redis", "delete", key, r.rdb.Del(ctx, r.redisKey(key)).Err())
}
