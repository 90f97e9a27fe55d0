// Package cache provides a Redis-backed cache for query-service answers,
// keyed on repo id and a hash of the query text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is not present in the cache.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "coderag:query:"

// Cache wraps a Redis client with a fixed TTL for cached query responses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the Redis instance at url with the given entry TTL.
func New(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

// Key derives the cache key for a (repoId, query, topK) triple.
func Key(repoID, query string, topK int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", repoID, query, topK)))
	return keyPrefix + repoID + ":" + hex.EncodeToString(h[:])
}

// GetJSON looks up key and unmarshals its value into dst. Returns ErrMiss
// if the key is absent.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	return json.Unmarshal(raw, dst)
}

// SetJSON marshals value and stores it under key with the cache's TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
