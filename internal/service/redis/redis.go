package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
	}
)

func NewRedis(rdb *redis.Client) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func (r *RedisService) RPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.RPush(ctx, key, value...).Err()
}

func (r *RedisService) LPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.LPush(ctx, key, value...).Err()
}

// LPop takes the head of the list; ok is false on an empty or missing key.
func (r *RedisService) LPop(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
