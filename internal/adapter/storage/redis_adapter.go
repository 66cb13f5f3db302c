package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyPending   = "pending"
	idempotencyKeyTTL    = 24 * time.Hour
)

// completeScript records the order id only while the key is still pending.
// An expired, released or already completed key is left as it is.
var completeScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) ~= ARGV[2] then
	return 0
end
redis.call('SET', key, ARGV[1], 'KEEPTTL')
return 1
`)

// releaseScript deletes the key only while it is still pending, so a
// completed order is never forgotten.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('GET', key) == ARGV[1] then
	return redis.call('DEL', key)
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, idempotencyPending, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string, orderID int64) error {
	return completeScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, orderID, idempotencyPending).Err()
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, idempotencyPending).Err()
}

func (r *RedisAdapter) Lookup(ctx context.Context, key string) (int64, bool, error) {
	value, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if value == idempotencyPending {
		return 0, true, nil
	}
	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return orderID, true, nil
}

// OpenRedis connects and pings a client.
func OpenRedis(ctx context.Context, addr string, poolSize int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: poolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
