package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codesage/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps the go-redis client with the few commands the storage layer
// needs.
type Client struct {
	inner *redis.Client
}

// NewClient connects to the configured redis server and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", client.Options().Addr, err)
	}
	return &Client{inner: client}, nil
}

// Get fetches the key as bytes; a missing key returns ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.inner == nil {
		return nil, errNotInitialized
	}
	return c.inner.Get(ctx, key).Bytes()
}

// Set stores value without expiry.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Set(ctx, key, value, 0).Err()
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
