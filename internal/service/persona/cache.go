package persona

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// SummaryCache persists a successfully generated persona summary across restarts.
type SummaryCache interface {
	// Get returns the cached summary; ok is false when nothing is cached.
	Get(ctx context.Context) (summary string, ok bool, err error)
	// Put stores the summary. An existing entry is never overwritten.
	Put(ctx context.Context, summary string) error
}

// FileCache keeps the summary in a plain text file.
type FileCache struct {
	Path string
}

// Get implements SummaryCache.
func (c FileCache) Get(_ context.Context) (string, bool, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read summary cache: %w", err)
	}
	return string(data), true, nil
}

// Put implements SummaryCache.
func (c FileCache) Put(_ context.Context, summary string) error {
	if dir := filepath.Dir(c.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create summary cache dir: %w", err)
		}
	}

	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create summary cache: %w", err)
	}

	if _, err := f.WriteString(summary); err != nil {
		f.Close()
		os.Remove(c.Path)
		return fmt.Errorf("write summary cache: %w", err)
	}
	return f.Close()
}

// RedisCache keeps the summary under a single Redis key, shared by every replica.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache connects using a redis:// URL.
func NewRedisCache(url, key string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), key), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, key string) *RedisCache {
	if key == "" {
		key = "persona:summary"
	}
	return &RedisCache{client: client, key: key}
}

// Get implements SummaryCache.
func (c *RedisCache) Get(ctx context.Context) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	return val, true, nil
}

// Put implements SummaryCache.
func (c *RedisCache) Put(ctx context.Context, summary string) error {
	if err := c.client.SetNX(ctx, c.key, summary, 0).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", c.key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
