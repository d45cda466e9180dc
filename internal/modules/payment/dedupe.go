package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const webhookKeyPrefix = "payment:webhook:"

// RedisDeduper remembers webhook delivery ids for ttl using SETNX.
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{redis: client, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.redis.SetNX(ctx, webhookKeyPrefix+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return d.redis.Del(ctx, webhookKeyPrefix+key).Err()
}
