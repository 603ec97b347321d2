package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores items in redis under a key prefix. A zero ttl keeps keys forever.
type Redis struct {
	c      *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis store.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{c: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	return r.c.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.prefix+key).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.c.Close()
}
