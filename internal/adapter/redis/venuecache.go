// Package redis shares the venue list between service instances through Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// DefaultKey holds the JSON venue snapshot.
const DefaultKey = "trackside:venues:v1"

// Client is the subset of the go-redis client used by VenueCache.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Source lists venues from the system of record.
type Source interface {
	ListVenues(ctx context.Context) ([]domain.Venue, error)
}

// NewClient opens a go-redis client for addr.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

// VenueCache serves the venue list from Redis and falls back to the inner
// source on a miss. Redis failures degrade to the inner source.
type VenueCache struct {
	client Client
	inner  Source
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewVenueCache wraps inner with a Redis snapshot that expires after ttl.
func NewVenueCache(client Client, inner Source, ttl time.Duration, logger *slog.Logger) *VenueCache {
	return &VenueCache{client: client, inner: inner, key: DefaultKey, ttl: ttl, logger: logger}
}

// ListVenues returns the cached snapshot or loads and caches a fresh one.
func (c *VenueCache) ListVenues(ctx context.Context) ([]domain.Venue, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var venues []domain.Venue
		jerr := json.Unmarshal(raw, &venues)
		if jerr == nil {
			c.logger.Debug("venue cache hit", "venues", len(venues))
			return venues, nil
		}
		c.logger.Warn("discarding corrupt venue cache entry", "error", jerr)
	case errors.Is(err, goredis.Nil):
		c.logger.Debug("venue cache miss")
	default:
		c.logger.Warn("venue cache read failed", "error", err)
	}

	venues, err := c.inner.ListVenues(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(venues)
	if err != nil {
		return nil, fmt.Errorf("encode venues: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("venue cache write failed", "error", err)
	}
	return venues, nil
}

// Invalidate drops the cached snapshot so the next ListVenues reads through.
func (c *VenueCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("invalidate venue cache: %w", err)
	}
	return nil
}
