package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the keyed store used for idempotency marks and attempt counters.
// Keeping these out of process memory means the guarantees hold across
// multiple service instances.
type Cache interface {
	// MarkOnce sets key if it does not exist yet. Returns true when this call
	// was the first to set it.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Incr increments a counter, starting its TTL on first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Key(parts ...string) string
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

func NewRedisCache(client *redis.Client, serviceName string) Cache {
	return &redisCache{client: client, serviceName: serviceName}
}

func (r *redisCache) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, 1, ttl).Result()
}

func (r *redisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *redisCache) Key(parts ...string) string {
	key := r.serviceName
	for _, p := range parts {
		key = fmt.Sprintf("%s:%s", key, p)
	}
	return key
}
