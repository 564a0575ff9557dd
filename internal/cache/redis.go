package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a durable Store backed by a Redis instance, using native TTLs.
type Redis struct {
	rdb *redis.Client
}

// NewRedis dials the Redis URL and verifies the connection.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func redisKey(namespace, key string) string {
	return namespace + ":" + key
}

func (r *Redis) Get(ctx context.Context, namespace, key string, dest interface{}) error {
	payload, err := r.rdb.Get(ctx, redisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		// Unreadable payload behaves as a miss; drop it so the rebuilt
		// record replaces it.
		_ = r.rdb.Del(ctx, redisKey(namespace, key)).Err()
		return ErrMiss
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, namespace, key string, value interface{}, opts Options) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := r.rdb.Set(ctx, redisKey(namespace, key), payload, opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := r.rdb.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
