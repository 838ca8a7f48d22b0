package storage

import (
	"context"
	"errors"
	"fmt"

	"codesage/internal/models"
	"codesage/internal/redis"
)

// RedisBackend stores the JSON document under a single key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) Load(ctx context.Context) (models.Document, error) {
	data, err := r.client.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return make(models.Document), nil
		}
		return make(models.Document), fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return decodeDocument(data)
}

func (r *RedisBackend) Save(ctx context.Context, doc models.Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
