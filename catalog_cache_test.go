// catalog_cache_test.go: Redis catalog cache fallback tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis returns a client whose every command fails quickly.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCatalogCache_FallsBackToUpstream(t *testing.T) {
	upstream := NewStaticCatalog(&AvailablePlugin{Descriptor: testDescriptor("mail", "1.0.0"), URL: "https://plugins.example.org/mail.zip"})
	logger := NewTestLogger()
	cache := NewRedisCatalogCache(unreachableRedis(t), upstream, "", 0, logger)

	plugins, err := cache.Available(context.Background())
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "mail", plugins[0].Name())

	hits, misses := cache.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, int64(1), misses)
	assert.True(t, logger.HasMessage("WARN", "Catalog cache unavailable, using upstream catalog"))
	assert.True(t, logger.HasMessage("WARN", "Failed to populate catalog cache"))
}

func TestRedisCatalogCache_UpstreamError(t *testing.T) {
	upstream := CatalogFunc(func(context.Context) ([]*AvailablePlugin, error) {
		return nil, errors.New("catalog unreachable")
	})
	cache := NewRedisCatalogCache(unreachableRedis(t), upstream, "test:catalog", time.Minute, nil)

	_, err := cache.Available(context.Background())
	assert.EqualError(t, err, "catalog unreachable")
}

func TestRedisCatalogCache_InvalidateReportsRedisFailure(t *testing.T) {
	cache := NewRedisCatalogCache(unreachableRedis(t), NewStaticCatalog(), "", 0, nil)
	err := cache.Invalidate(context.Background())
	assert.True(t, HasErrorCode(err, ErrCodeCatalogError))
}
