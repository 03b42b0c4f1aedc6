// cache_test.go: test coverage for the loader-backed keyed cache
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

// countingLoader returns a loader that counts invocations and produces
// "<key>-v<call>" so tests can observe reloads.
func countingLoader(calls *atomic.Int64) CacheLoader[string] {
	return func(ctx context.Context, key string) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("%s-v%d", key, n), nil
	}
}

func newTestCache(t *testing.T, config CacheConfig, loader CacheLoader[string]) *Cache[string] {
	t.Helper()
	cache, err := NewCache(config, loader, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

// TestCache_Construction verifies declaration validation.
func TestCache_Construction(t *testing.T) {
	loader := countingLoader(&atomic.Int64{})

	t.Run("requires_a_name", func(t *testing.T) {
		_, err := NewCache(CacheConfig{}, loader, nil)
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeInvalidCacheName), coded.ErrorCode())
	})

	t.Run("requires_a_loader", func(t *testing.T) {
		_, err := NewCache[string](CacheConfig{Name: "users"}, nil, nil)
		require.Error(t, err)
	})

	t.Run("rejects_negative_ttl", func(t *testing.T) {
		_, err := NewCache(CacheConfig{Name: "users", TTL: -time.Second}, loader, nil)
		require.Error(t, err)
	})

	t.Run("rejects_unknown_mode", func(t *testing.T) {
		_, err := NewCache(CacheConfig{Name: "users", Mode: "sometimes"}, loader, nil)
		require.Error(t, err)
	})

	t.Run("defaults_to_lazy_mode", func(t *testing.T) {
		cache := newTestCache(t, CacheConfig{Name: "users"}, loader)
		assert.Equal(t, RefreshLazy, cache.Config().Mode)
	})
}

// TestCache_GetLoadsOnMiss verifies the basic load-on-miss contract.
func TestCache_GetLoadsOnMiss(t *testing.T) {
	var calls atomic.Int64
	cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, countingLoader(&calls))

	value, err := cache.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice-v1", value)
	assert.Equal(t, int64(1), calls.Load())

	// Second access is a hit; the loader is not consulted again
	value, err = cache.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice-v1", value)
	assert.Equal(t, int64(1), calls.Load())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, 1, stats.Entries)
}

// TestCache_SingleflightLoad verifies concurrent misses for one key share
// a single loader call.
func TestCache_SingleflightLoad(t *testing.T) {
	var calls atomic.Int64
	slowLoader := func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return "value", nil
	}
	cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, slowLoader)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			value, err := cache.Get(context.Background(), "shared")
			assert.NoError(t, err)
			results[n] = value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent misses must share one loader call")
	for _, value := range results {
		assert.Equal(t, "value", value)
	}
}

// TestCache_LoaderErrors verifies error propagation and that failures are
// never cached.
func TestCache_LoaderErrors(t *testing.T) {
	t.Run("error_propagates_with_load_failed_code", func(t *testing.T) {
		failing := func(ctx context.Context, key string) (string, error) {
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{Name: "users"}, failing)

		_, err := cache.Get(context.Background(), "alice")
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeCacheLoadFailed), coded.ErrorCode())
		assert.Equal(t, 0, cache.Len(), "failed loads must not be cached")
	})

	t.Run("failures_are_retried_on_next_access", func(t *testing.T) {
		var calls atomic.Int64
		flaky := func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "", fmt.Errorf("transient")
			}
			return "recovered", nil
		}
		cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, flaky)

		_, err := cache.Get(context.Background(), "alice")
		require.Error(t, err)

		value, err := cache.Get(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "recovered", value)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("get_or_default_falls_back", func(t *testing.T) {
		failing := func(ctx context.Context, key string) (string, error) {
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{Name: "users"}, failing)

		assert.Equal(t, "fallback", cache.GetOrDefault(context.Background(), "alice", "fallback"))
	})
}

// TestCache_ManualOperations verifies Put, Peek, Invalidate and friends.
func TestCache_ManualOperations(t *testing.T) {
	var calls atomic.Int64
	cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, countingLoader(&calls))

	t.Run("put_then_peek", func(t *testing.T) {
		cache.Put("bob", "manual")

		value, ok := cache.Peek("bob")
		require.True(t, ok)
		assert.Equal(t, "manual", value)
		assert.Equal(t, int64(0), calls.Load(), "peek must not load")
	})

	t.Run("peek_misses_are_silent", func(t *testing.T) {
		before := cache.Stats()
		_, ok := cache.Peek("nobody")
		assert.False(t, ok)
		after := cache.Stats()
		assert.Equal(t, before.Misses, after.Misses, "peek must not count misses")
	})

	t.Run("invalidate_reports_presence", func(t *testing.T) {
		cache.Put("carol", "v")
		assert.True(t, cache.Invalidate("carol"))
		assert.False(t, cache.Invalidate("carol"))
		_, ok := cache.Peek("carol")
		assert.False(t, ok)
	})

	t.Run("invalidate_all_empties_the_cache", func(t *testing.T) {
		cache.Put("a", "1")
		cache.Put("b", "2")
		require.NotZero(t, cache.Len())

		cache.InvalidateAll()

		assert.Equal(t, 0, cache.Len())
		assert.Empty(t, cache.Keys())
	})
}

// TestCache_TTLBehavior verifies expiry, per-entry TTLs and the sliding
// TTL mode.
func TestCache_TTLBehavior(t *testing.T) {
	t.Run("entries_expire_after_ttl", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestCache(t, CacheConfig{Name: "short", TTL: 50 * time.Millisecond}, countingLoader(&calls))

		_, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)

		time.Sleep(120 * time.Millisecond)

		value, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "k-v2", value, "expired entry must be reloaded")
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("put_ttl_overrides_per_entry", func(t *testing.T) {
		cache := newTestCache(t, CacheConfig{Name: "mixed", TTL: time.Minute}, countingLoader(&atomic.Int64{}))

		cache.PutTTL("ephemeral", "v", 50*time.Millisecond)
		cache.Put("durable", "v")

		time.Sleep(120 * time.Millisecond)

		_, ok := cache.Peek("ephemeral")
		assert.False(t, ok)
		_, ok = cache.Peek("durable")
		assert.True(t, ok)
	})

	t.Run("sliding_ttl_extends_on_hit", func(t *testing.T) {
		cache := newTestCache(t, CacheConfig{Name: "sliding", TTL: 200 * time.Millisecond, SlidingTTL: true},
			countingLoader(&atomic.Int64{}))

		cache.Put("k", "v")

		// Touch the entry well inside its lifetime four times; each hit
		// pushes the expiry out again
		for i := 0; i < 4; i++ {
			time.Sleep(50 * time.Millisecond)
			_, err := cache.Get(context.Background(), "k")
			require.NoError(t, err)
		}

		// 200ms elapsed in total but the last touch was 50ms ago
		_, ok := cache.Peek("k")
		assert.True(t, ok, "sliding entry should survive while touched")

		time.Sleep(400 * time.Millisecond)
		_, ok = cache.Peek("k")
		assert.False(t, ok, "sliding entry should expire once idle")
	})

	t.Run("ttl_override_applies_to_new_entries", func(t *testing.T) {
		cache := newTestCache(t, CacheConfig{Name: "hotreload", TTL: time.Minute}, countingLoader(&atomic.Int64{}))

		cache.SetTTLOverride(50 * time.Millisecond)
		cache.Put("short-lived", "v")

		time.Sleep(120 * time.Millisecond)
		_, ok := cache.Peek("short-lived")
		assert.False(t, ok, "override TTL should govern new entries")

		cache.SetTTLOverride(0)
		cache.Put("back-to-normal", "v")

		time.Sleep(120 * time.Millisecond)
		_, ok = cache.Peek("back-to-normal")
		assert.True(t, ok, "clearing the override restores the declared TTL")
	})
}

// TestCache_CapacityEviction verifies the LRU bound.
func TestCache_CapacityEviction(t *testing.T) {
	cache := newTestCache(t, CacheConfig{Name: "bounded", TTL: time.Minute, Capacity: 2},
		countingLoader(&atomic.Int64{}))

	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Put("c", "3")

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

// TestCache_StaleOnError verifies last-good-value serving across loader
// failures and open breakers.
func TestCache_StaleOnError(t *testing.T) {
	t.Run("serves_stale_after_load_failure", func(t *testing.T) {
		var calls atomic.Int64
		failAfterFirst := func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "good", nil
			}
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{
			Name:         "resilient",
			TTL:          50 * time.Millisecond,
			StaleOnError: true,
		}, failAfterFirst)

		value, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)
		require.Equal(t, "good", value)

		// Let the entry expire, then fail the reload
		time.Sleep(120 * time.Millisecond)

		value, err = cache.Get(context.Background(), "k")
		require.NoError(t, err, "stale value should mask the loader failure")
		assert.Equal(t, "good", value)
		assert.Equal(t, int64(1), cache.Stats().StaleServed)
	})

	t.Run("serves_stale_while_breaker_is_open", func(t *testing.T) {
		var calls atomic.Int64
		failAfterFirst := func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "good", nil
			}
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{
			Name:         "shielded",
			TTL:          50 * time.Millisecond,
			StaleOnError: true,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:             true,
				FailureThreshold:    2,
				RecoveryTimeout:     time.Hour,
				MinRequestThreshold: 1,
				SuccessThreshold:    1,
			},
		}, failAfterFirst)

		_, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)
		time.Sleep(120 * time.Millisecond)

		// Two failing loads trip the breaker; both are masked by stale serving
		for i := 0; i < 2; i++ {
			value, err := cache.Get(context.Background(), "k")
			require.NoError(t, err)
			require.Equal(t, "good", value)
		}
		require.Equal(t, StateOpen, cache.Stats().BreakerState)
		loaderCallsWhenOpened := calls.Load()

		// With the breaker open the loader is not consulted at all
		value, err := cache.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "good", value)
		assert.Equal(t, loaderCallsWhenOpened, calls.Load())
	})

	t.Run("breaker_open_without_stale_reports_error", func(t *testing.T) {
		failing := func(ctx context.Context, key string) (string, error) {
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{
			Name: "unshielded",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:             true,
				FailureThreshold:    2,
				RecoveryTimeout:     time.Hour,
				MinRequestThreshold: 1,
				SuccessThreshold:    1,
			},
		}, failing)

		for i := 0; i < 2; i++ {
			_, err := cache.Get(context.Background(), "k")
			require.Error(t, err)
		}

		_, err := cache.Get(context.Background(), "k")
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeBreakerOpen), coded.ErrorCode())
	})
}

// TestCache_Refresh verifies reload semantics for refresh and preload.
func TestCache_Refresh(t *testing.T) {
	t.Run("refresh_reloads_present_keys", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, countingLoader(&calls))

		_, err := cache.Get(context.Background(), "alice")
		require.NoError(t, err)

		require.NoError(t, cache.Refresh(context.Background()))

		value, err := cache.Get(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice-v2", value, "refresh must run the loader again")

		stats := cache.Stats()
		assert.Equal(t, int64(1), stats.Refreshes)
		assert.False(t, stats.LastRefresh.IsZero())
	})

	t.Run("refresh_includes_preload_keys", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestCache(t, CacheConfig{
			Name:        "catalog",
			TTL:         time.Minute,
			Mode:        RefreshEager,
			PreloadKeys: []string{"featured", "new"},
		}, countingLoader(&calls))

		require.NoError(t, cache.Refresh(context.Background()))

		assert.Equal(t, 2, cache.Len(), "preload keys should be loaded by refresh")
	})

	t.Run("refresh_failure_keeps_old_value", func(t *testing.T) {
		var calls atomic.Int64
		flaky := func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "original", nil
			}
			return "", fmt.Errorf("backend down")
		}
		cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, flaky)

		_, err := cache.Get(context.Background(), "alice")
		require.NoError(t, err)

		err = cache.Refresh(context.Background())
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeCacheRefreshFailed), coded.ErrorCode())

		value, ok := cache.Peek("alice")
		require.True(t, ok, "failed refresh must not drop the entry")
		assert.Equal(t, "original", value)
	})

	t.Run("refresh_honors_context_cancellation", func(t *testing.T) {
		cache := newTestCache(t, CacheConfig{Name: "users", TTL: time.Minute}, countingLoader(&atomic.Int64{}))
		cache.Put("k", "v")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cache.Refresh(ctx)
		require.Error(t, err)
	})

	t.Run("preload_skips_lazy_caches", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestCache(t, CacheConfig{
			Name:        "lazy",
			PreloadKeys: []string{"a", "b"},
		}, countingLoader(&calls))

		require.NoError(t, cache.Preload(context.Background()))
		assert.Equal(t, int64(0), calls.Load())
	})

	t.Run("preload_warms_eager_caches", func(t *testing.T) {
		var calls atomic.Int64
		cache := newTestCache(t, CacheConfig{
			Name:        "eager",
			Mode:        RefreshEager,
			TTL:         time.Minute,
			PreloadKeys: []string{"a", "b"},
		}, countingLoader(&calls))

		require.NoError(t, cache.Preload(context.Background()))
		assert.Equal(t, int64(2), calls.Load())
		assert.Equal(t, 2, cache.Len())
	})
}

// TestCache_Close verifies closed-cache semantics.
func TestCache_Close(t *testing.T) {
	var calls atomic.Int64
	cache, err := NewCache(CacheConfig{Name: "users", TTL: time.Minute}, countingLoader(&calls), nil)
	require.NoError(t, err)

	cache.Put("k", "v")
	cache.Close()
	cache.Close() // idempotent

	_, err = cache.Get(context.Background(), "k")
	require.Error(t, err)
	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errors.ErrorCode(ErrCodeCacheClosed), coded.ErrorCode())

	assert.Equal(t, 0, cache.Len())
	assert.Nil(t, cache.Keys())
	assert.False(t, cache.Invalidate("k"))
	require.Error(t, cache.Refresh(context.Background()))

	_, ok := cache.Peek("k")
	assert.False(t, ok)
}
