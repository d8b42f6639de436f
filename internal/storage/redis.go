package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps records as plain redis strings. Records never expire:
// line expiry is handled by the cart store itself.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func (r *RedisStorage) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, recordKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisStorage) Save(ctx context.Context, name string, data []byte) error {
	if err := r.client.Set(ctx, recordKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func recordKey(name string) string {
	return fmt.Sprintf("cart:%s", name)
}
