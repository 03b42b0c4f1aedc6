// cache_group_test.go: test coverage for snapshot-based group caches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// versionedGroupLoader produces {"a": "a-v<call>", "b": "b-v<call>"} so
// tests can observe snapshot swaps.
func versionedGroupLoader(calls *atomic.Int64) GroupLoader[string] {
	return func(ctx context.Context) (map[string]string, error) {
		n := calls.Add(1)
		return map[string]string{
			"a": fmt.Sprintf("a-v%d", n),
			"b": fmt.Sprintf("b-v%d", n),
		}, nil
	}
}

func newTestGroupCache(t *testing.T, config CacheConfig, loader GroupLoader[string]) *GroupCache[string] {
	t.Helper()
	cache, err := NewGroupCache(config, loader, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

// TestGroupCache_LoadOnFirstAccess verifies the whole group loads once
// and serves every key from the snapshot.
func TestGroupCache_LoadOnFirstAccess(t *testing.T) {
	var calls atomic.Int64
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, versionedGroupLoader(&calls))

	valueA, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a-v1", valueA)

	valueB, err := cache.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "b-v1", valueB)

	assert.Equal(t, int64(1), calls.Load(), "one snapshot load serves all keys")

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, 2, stats.Entries)
	assert.False(t, stats.LastRefresh.IsZero())
}

// TestGroupCache_MissingKey verifies keys outside the loaded set.
func TestGroupCache_MissingKey(t *testing.T) {
	var calls atomic.Int64
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, versionedGroupLoader(&calls))

	_, err := cache.Get(context.Background(), "zz")
	require.Error(t, err)
	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errors.ErrorCode(ErrCodeCacheKeyNotFound), coded.ErrorCode())

	// The group was still loaded; misses never trigger per-key loads
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), cache.Stats().Misses)

	assert.Equal(t, "fallback", cache.GetOrDefault(context.Background(), "zz", "fallback"))
}

// TestGroupCache_GetAll verifies snapshot copies are isolated.
func TestGroupCache_GetAll(t *testing.T) {
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute},
		versionedGroupLoader(&atomic.Int64{}))

	all, err := cache.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Mutating the returned map must not affect the cache
	all["a"] = "tampered"

	value, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a-v1", value)
}

// TestGroupCache_ContainsAndKeys verifies inspection without loading.
func TestGroupCache_ContainsAndKeys(t *testing.T) {
	var calls atomic.Int64
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, versionedGroupLoader(&calls))

	assert.False(t, cache.Contains("a"), "no snapshot yet")
	assert.Nil(t, cache.Keys())
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(0), calls.Load(), "inspection must not load")

	_, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)

	assert.True(t, cache.Contains("a"))
	assert.False(t, cache.Contains("zz"))
	assert.ElementsMatch(t, []string{"a", "b"}, cache.Keys())
	assert.Equal(t, 2, cache.Len())
}

// TestGroupCache_InvalidateForcesReload verifies invalidation drops the
// snapshot.
func TestGroupCache_InvalidateForcesReload(t *testing.T) {
	var calls atomic.Int64
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, versionedGroupLoader(&calls))

	_, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)

	cache.Invalidate()
	assert.Equal(t, 0, cache.Len())

	value, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a-v2", value, "post-invalidation access must reload")
	assert.Equal(t, int64(2), calls.Load())
}

// TestGroupCache_TTL verifies lazy expiry, the eager exemption and the
// hot-reload TTL override.
func TestGroupCache_TTL(t *testing.T) {
	t.Run("lazy_snapshot_expires", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestGroupCache(t, CacheConfig{Name: "lazy", TTL: 50 * time.Millisecond},
			versionedGroupLoader(&calls))

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)

		value, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a-v2", value)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("eager_snapshot_does_not_expire_on_access", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestGroupCache(t, CacheConfig{Name: "eager", TTL: 50 * time.Millisecond, Mode: RefreshEager},
			versionedGroupLoader(&calls))

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)

		value, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a-v1", value, "eager freshness belongs to the scheduler, not the access path")
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("ttl_override_takes_effect_immediately", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestGroupCache(t, CacheConfig{Name: "hotreload", TTL: time.Minute},
			versionedGroupLoader(&calls))

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		cache.SetTTLOverride(50 * time.Millisecond)
		time.Sleep(120 * time.Millisecond)

		_, err = cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls.Load(), "shortened TTL must expire the live snapshot")

		cache.SetTTLOverride(0)
		_, err = cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls.Load(), "restored TTL keeps the fresh snapshot")
	})
}

// TestGroupCache_StaleOnError verifies old snapshots mask reload failures.
func TestGroupCache_StaleOnError(t *testing.T) {
	t.Run("serves_previous_snapshot", func(t *testing.T) {
		var calls atomic.Int64
		flaky := func(ctx context.Context) (map[string]string, error) {
			if calls.Add(1) == 1 {
				return map[string]string{"a": "good"}, nil
			}
			return nil, fmt.Errorf("backend down")
		}
		cache := newTestGroupCache(t, CacheConfig{
			Name:         "resilient",
			TTL:          50 * time.Millisecond,
			StaleOnError: true,
		}, flaky)

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)

		value, err := cache.Get(context.Background(), "a")
		require.NoError(t, err, "stale snapshot should mask the failure")
		assert.Equal(t, "good", value)
		assert.Equal(t, int64(1), cache.Stats().StaleServed)
	})

	t.Run("without_stale_the_error_surfaces", func(t *testing.T) {
		var calls atomic.Int64
		flaky := func(ctx context.Context) (map[string]string, error) {
			if calls.Add(1) == 1 {
				return map[string]string{"a": "good"}, nil
			}
			return nil, fmt.Errorf("backend down")
		}
		cache := newTestGroupCache(t, CacheConfig{Name: "strict", TTL: 50 * time.Millisecond}, flaky)

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)

		_, err = cache.Get(context.Background(), "a")
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeCacheLoadFailed), coded.ErrorCode())
	})
}

// TestGroupCache_Refresh verifies explicit refresh semantics.
func TestGroupCache_Refresh(t *testing.T) {
	t.Run("refresh_swaps_the_snapshot", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute},
			versionedGroupLoader(&calls))

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		require.NoError(t, cache.Refresh(context.Background()))

		value, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a-v2", value)
		assert.Equal(t, int64(1), cache.Stats().Refreshes)
	})

	t.Run("failed_refresh_keeps_previous_snapshot", func(t *testing.T) {
		var calls atomic.Int64
		flaky := func(ctx context.Context) (map[string]string, error) {
			if calls.Add(1) == 1 {
				return map[string]string{"a": "original"}, nil
			}
			return nil, fmt.Errorf("backend down")
		}
		cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, flaky)

		_, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)

		require.Error(t, cache.Refresh(context.Background()))

		value, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "original", value)
		assert.Equal(t, int64(1), cache.Stats().RefreshFailures)
	})

	t.Run("preload_warms_only_eager_groups", func(t *testing.T) {
		var lazyCalls, eagerCalls atomic.Int64

		lazy := newTestGroupCache(t, CacheConfig{Name: "lazy"}, versionedGroupLoader(&lazyCalls))
		require.NoError(t, lazy.Preload(context.Background()))
		assert.Equal(t, int64(0), lazyCalls.Load())

		eager := newTestGroupCache(t, CacheConfig{Name: "eager", Mode: RefreshEager}, versionedGroupLoader(&eagerCalls))
		require.NoError(t, eager.Preload(context.Background()))
		assert.Equal(t, int64(1), eagerCalls.Load())
		assert.Equal(t, 2, eager.Len())
	})
}

// TestGroupCache_BreakerProtection verifies the loader breaker.
func TestGroupCache_BreakerProtection(t *testing.T) {
	var calls atomic.Int64
	failing := func(ctx context.Context) (map[string]string, error) {
		calls.Add(1)
		return nil, fmt.Errorf("backend down")
	}
	cache := newTestGroupCache(t, CacheConfig{
		Name: "guarded",
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			FailureThreshold:    2,
			RecoveryTimeout:     time.Hour,
			MinRequestThreshold: 1,
			SuccessThreshold:    1,
		},
	}, failing)

	for i := 0; i < 2; i++ {
		_, err := cache.Get(context.Background(), "a")
		require.Error(t, err)
	}
	require.Equal(t, int64(2), calls.Load())

	_, err := cache.Get(context.Background(), "a")
	require.Error(t, err)
	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errors.ErrorCode(ErrCodeBreakerOpen), coded.ErrorCode())
	assert.Equal(t, int64(2), calls.Load(), "open breaker must block the loader")
}

// TestGroupCache_SingleflightLoad verifies concurrent first accesses
// collapse into one group load.
func TestGroupCache_SingleflightLoad(t *testing.T) {
	var calls atomic.Int64
	slow := func(ctx context.Context) (map[string]string, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return map[string]string{"a": "1", "b": "2"}, nil
	}
	cache := newTestGroupCache(t, CacheConfig{Name: "countries", TTL: time.Minute}, slow)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "a"
			if n%2 == 0 {
				key = "b"
			}
			_, err := cache.Get(context.Background(), key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent accesses must share one group load")
}

// TestGroupCache_Close verifies closed-cache semantics.
func TestGroupCache_Close(t *testing.T) {
	cache, err := NewGroupCache(CacheConfig{Name: "countries"}, versionedGroupLoader(&atomic.Int64{}), nil)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "a")
	require.NoError(t, err)

	cache.Close()
	cache.Close() // idempotent

	_, err = cache.Get(context.Background(), "a")
	require.Error(t, err)
	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errors.ErrorCode(ErrCodeCacheClosed), coded.ErrorCode())

	_, err = cache.GetAll(context.Background())
	require.Error(t, err)
	require.Error(t, cache.Refresh(context.Background()))
	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Contains("a"))
}
