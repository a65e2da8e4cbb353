package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter is a fixed-window counter keyed per caller.
type RateLimiter struct {
	cli    *redis.Client
	prefix string
}

func NewRateLimiter(cli *redis.Client, prefix string) *RateLimiter {
	return &RateLimiter{cli: cli, prefix: prefix}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	key = r.prefix + ":rate:" + key
	count, err := r.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.cli.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}

	return count <= int64(limit), nil
}

func UploadKey(ownerID string) string {
	return "upload:" + ownerID
}
