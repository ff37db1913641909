// catalog_cache.go: Redis-backed cache in front of a Catalog
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCatalogCache caches the answer of an upstream Catalog in Redis so
// that several hosts share one catalog lookup per TTL. Redis failures fall
// back to the upstream catalog.
type RedisCatalogCache struct {
	client   *redis.Client
	upstream Catalog
	key      string
	ttl      time.Duration
	logger   Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCatalogCache wraps upstream. An empty key defaults to
// "pluginhost:catalog"; a non-positive ttl to ten minutes.
func NewRedisCatalogCache(client *redis.Client, upstream Catalog, key string, ttl time.Duration, logger any) *RedisCatalogCache {
	if key == "" {
		key = "pluginhost:catalog"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCatalogCache{
		client:   client,
		upstream: upstream,
		key:      key,
		ttl:      ttl,
		logger:   NewLogger(logger),
	}
}

// Available implements Catalog.
func (c *RedisCatalogCache) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var plugins []*AvailablePlugin
		if decodeErr := json.Unmarshal(data, &plugins); decodeErr == nil {
			c.hits.Add(1)
			return plugins, nil
		} else {
			c.logger.Warn("Discarding undecodable catalog cache entry", "key", c.key, "error", decodeErr)
		}
	case stderrors.Is(err, redis.Nil):
	default:
		c.logger.Warn("Catalog cache unavailable, using upstream catalog", "key", c.key, "error", err)
	}

	c.misses.Add(1)
	plugins, err := c.upstream.Available(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(plugins); err == nil {
		if err := c.client.Set(ctx, c.key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("Failed to populate catalog cache", "key", c.key, "error", err)
		}
	}
	return plugins, nil
}

// Invalidate drops the cached catalog.
func (c *RedisCatalogCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return NewCatalogError("cannot invalidate catalog cache", err)
	}
	return nil
}

// Stats returns cache hits and misses.
func (c *RedisCatalogCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
