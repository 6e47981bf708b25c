package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores search results in redis for a short TTL. A nil *Cache
// is a valid no-op, so call sites never branch on whether caching is
// configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to redis at addr. Empty addr disables caching.
func NewCache(addr string, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Key derives the cache key from the normalized query, filters, and
// limit. Queries differing only in case or surrounding space share an
// entry.
func (c *Cache) Key(query string, filters Filters, limit int) string {
	payload, _ := json.Marshal(struct {
		Query   string  `json:"q"`
		Filters Filters `json:"f"`
		Limit   int     `json:"l"`
	}{
		Query:   strings.ToLower(strings.TrimSpace(query)),
		Filters: filters,
		Limit:   limit,
	})
	sum := sha256.Sum256(payload)
	return "reva:search:" + hex.EncodeToString(sum[:])
}

// Get returns the cached result, or nil on miss or any redis error.
func (c *Cache) Get(ctx context.Context, key string) *Result {
	if c == nil {
		return nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("search cache read failed", "error", err)
		}
		return nil
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	result.Cached = true
	return &result
}

// Set stores the result; failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, result *Result) {
	if c == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("search cache write failed", "error", err)
	}
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
