// cache_group.go: Multi-key cache loaded as one consistent snapshot
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"golang.org/x/sync/singleflight"
)

// GroupLoader produces the complete key set of a group cache in one call.
// Typical sources are reference tables: country lists, feature flags,
// tariff plans. The returned map is copied; the loader may reuse or discard
// its own map freely.
type GroupLoader[V any] func(ctx context.Context) (map[string]V, error)

// GroupCache is a cache whose entries are loaded and replaced as a whole.
//
// Readers always observe one consistent snapshot: loads build a fresh map
// and publish it with an atomic pointer swap, so a refresh can never expose
// a partially filled view. TTL applies to the snapshot as a unit. With
// StaleOnError the previous snapshot keeps serving when a reload fails.
//
// A GroupCache is safe for concurrent use.
type GroupCache[V any] struct {
	config  CacheConfig
	loader  GroupLoader[V]
	logger  Logger
	metrics MetricsCollector
	labels  map[string]string
	breaker *CircuitBreaker

	snapshot    atomic.Pointer[groupSnapshot[V]]
	group       singleflight.Group
	closed      atomic.Bool
	ttlOverride atomic.Int64 // nanoseconds; positive replaces config.TTL

	hits            atomic.Int64
	misses          atomic.Int64
	loads           atomic.Int64
	loadFailures    atomic.Int64
	staleServed     atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
}

type groupSnapshot[V any] struct {
	data     map[string]V
	loadedAt time.Time
}

// NewGroupCache creates a group cache from its declaration and loader.
// The logger may be nil for silent operation.
func NewGroupCache[V any](config CacheConfig, loader GroupLoader[V], logger Logger) (*GroupCache[V], error) {
	config = config.normalized()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, NewConfigInvalidError("loader", "a group loader is required")
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	g := &GroupCache[V]{
		config:  config,
		loader:  loader,
		logger:  logger.With("cache", config.Name),
		metrics: NewNoOpMetricsCollector(),
		labels:  map[string]string{"cache": config.Name},
	}
	if config.CircuitBreaker.Enabled {
		g.breaker = NewCircuitBreaker(config.CircuitBreaker)
	}
	return g, nil
}

// Name returns the cache name.
func (g *GroupCache[V]) Name() string { return g.config.Name }

// Config returns a copy of the cache declaration.
func (g *GroupCache[V]) Config() CacheConfig { return g.config }

// Get returns the value for key from the current snapshot, loading the
// group first when no fresh snapshot exists. A key absent from a fresh
// snapshot yields ErrCodeCacheKeyNotFound; group loaders define the full
// key set, so single keys are never loaded individually.
func (g *GroupCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if g.closed.Load() {
		return zero, NewCacheClosedError(g.config.Name)
	}

	snap, err := g.ensureFresh(ctx)
	if err != nil {
		return zero, err
	}

	value, ok := snap.data[key]
	if !ok {
		g.misses.Add(1)
		g.metrics.IncrementCounter("appkit_cache_misses_total", g.labels, 1)
		return zero, NewCacheKeyNotFoundError(g.config.Name, key)
	}

	g.hits.Add(1)
	g.metrics.IncrementCounter("appkit_cache_hits_total", g.labels, 1)
	return value, nil
}

// GetOrDefault returns the value for key, falling back to the provided
// default when the key is absent or the group cannot be loaded.
func (g *GroupCache[V]) GetOrDefault(ctx context.Context, key string, fallback V) V {
	value, err := g.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return value
}

// GetAll returns a copy of the full snapshot, loading it first when needed.
func (g *GroupCache[V]) GetAll(ctx context.Context) (map[string]V, error) {
	if g.closed.Load() {
		return nil, NewCacheClosedError(g.config.Name)
	}

	snap, err := g.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]V, len(snap.data))
	for key, value := range snap.data {
		out[key] = value
	}
	return out, nil
}

// Contains reports whether the current snapshot holds the key, without
// triggering a load.
func (g *GroupCache[V]) Contains(key string) bool {
	snap := g.snapshot.Load()
	if snap == nil {
		return false
	}
	_, ok := snap.data[key]
	return ok
}

// Refresh reloads the full group and atomically swaps the snapshot.
// On failure the previous snapshot stays in place and the error surfaces
// so schedulers and preloaders can aggregate it.
func (g *GroupCache[V]) Refresh(ctx context.Context) error {
	if g.closed.Load() {
		return NewCacheClosedError(g.config.Name)
	}

	if _, err := g.load(ctx); err != nil {
		g.refreshFailures.Add(1)
		g.metrics.IncrementCounter("appkit_cache_refresh_failures_total", g.labels, 1)
		return err
	}

	g.refreshes.Add(1)
	g.metrics.IncrementCounter("appkit_cache_refreshes_total", g.labels, 1)
	return nil
}

// RefreshKeys implements the managed refresh operation. Group caches reload
// as a unit, so any requested key set triggers a full refresh.
func (g *GroupCache[V]) RefreshKeys(ctx context.Context, _ ...string) error {
	return g.Refresh(ctx)
}

// Preload warms eager group caches with an initial full load.
func (g *GroupCache[V]) Preload(ctx context.Context) error {
	if g.config.Mode != RefreshEager {
		return nil
	}
	return g.Refresh(ctx)
}

// SetTTLOverride replaces the configured snapshot TTL. It takes effect
// immediately, including for the snapshot currently being served. Zero
// or negative restores the declared TTL. Used by configuration hot
// reload.
func (g *GroupCache[V]) SetTTLOverride(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	g.ttlOverride.Store(int64(ttl))
}

// effectiveTTL returns the live override when set, otherwise the
// declared TTL.
func (g *GroupCache[V]) effectiveTTL() time.Duration {
	if override := g.ttlOverride.Load(); override > 0 {
		return time.Duration(override)
	}
	return g.config.TTL
}

// Invalidate drops the snapshot. The next access reloads the group.
func (g *GroupCache[V]) Invalidate() {
	if g.closed.Load() {
		return
	}
	g.snapshot.Store(nil)
}

// InvalidateAll implements ManagedCache; same as Invalidate.
func (g *GroupCache[V]) InvalidateAll() { g.Invalidate() }

// InvalidateEntry implements ManagedCache. Group snapshots are replaced as
// a unit, so invalidating any entry drops the whole snapshot.
func (g *GroupCache[V]) InvalidateEntry(_ string) { g.Invalidate() }

// Keys returns the keys of the current snapshot without loading.
func (g *GroupCache[V]) Keys() []string {
	snap := g.snapshot.Load()
	if snap == nil {
		return nil
	}
	keys := make([]string, 0, len(snap.data))
	for key := range snap.data {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the entry count of the current snapshot.
func (g *GroupCache[V]) Len() int {
	snap := g.snapshot.Load()
	if snap == nil {
		return 0
	}
	return len(snap.data)
}

// EntryCount implements ManagedCache.
func (g *GroupCache[V]) EntryCount() int { return g.Len() }

// Stats returns a snapshot of the cache counters.
func (g *GroupCache[V]) Stats() CacheStats {
	stats := CacheStats{
		Name:            g.config.Name,
		Mode:            g.config.Mode,
		Entries:         g.Len(),
		Hits:            g.hits.Load(),
		Misses:          g.misses.Load(),
		Loads:           g.loads.Load(),
		LoadFailures:    g.loadFailures.Load(),
		StaleServed:     g.staleServed.Load(),
		Refreshes:       g.refreshes.Load(),
		RefreshFailures: g.refreshFailures.Load(),
	}
	if snap := g.snapshot.Load(); snap != nil {
		stats.LastRefresh = snap.loadedAt
	}
	if g.breaker != nil {
		stats.BreakerState = g.breaker.GetState()
	}
	return stats
}

// BreakerStats returns the loader breaker statistics, or false when the
// cache runs without breaker protection.
func (g *GroupCache[V]) BreakerStats() (CircuitBreakerStats, bool) {
	if g.breaker == nil {
		return CircuitBreakerStats{}, false
	}
	return g.breaker.GetStats(), true
}

// Close drops the snapshot and rejects further operations. Idempotent.
func (g *GroupCache[V]) Close() {
	if g.closed.CompareAndSwap(false, true) {
		g.snapshot.Store(nil)
		g.logger.Debug("Group cache closed")
	}
}

// setMetrics wires a collector at registration time.
func (g *GroupCache[V]) setMetrics(metrics MetricsCollector) {
	if metrics != nil {
		g.metrics = metrics
	}
}

// ensureFresh returns a usable snapshot, loading the group when the current
// one is missing or expired. Concurrent loads collapse into one flight.
// An expired snapshot keeps serving under StaleOnError when the reload fails.
func (g *GroupCache[V]) ensureFresh(ctx context.Context) (*groupSnapshot[V], error) {
	snap := g.snapshot.Load()
	if g.freshEnough(snap) {
		return snap, nil
	}

	loaded, err, _ := g.group.Do("load", func() (interface{}, error) {
		// Another flight may have swapped in a fresh snapshot already.
		if current := g.snapshot.Load(); g.freshEnough(current) {
			return current, nil
		}
		return g.load(ctx)
	})
	if err != nil {
		if snap != nil && g.config.StaleOnError {
			g.staleServed.Add(1)
			g.metrics.IncrementCounter("appkit_cache_stale_served_total", g.labels, 1)
			g.logger.Warn("Serving stale snapshot after load failure", "error", err)
			return snap, nil
		}
		return nil, err
	}
	return loaded.(*groupSnapshot[V]), nil
}

// freshEnough accepts any snapshot for eager caches, whose freshness is the
// scheduler's responsibility; lazy caches enforce the TTL on access.
func (g *GroupCache[V]) freshEnough(snap *groupSnapshot[V]) bool {
	if snap == nil {
		return false
	}
	ttl := g.effectiveTTL()
	if g.config.Mode == RefreshEager || ttl == 0 {
		return true
	}
	return timecache.CachedTime().Sub(snap.loadedAt) < ttl
}

// load runs the group loader and publishes the new snapshot.
func (g *GroupCache[V]) load(ctx context.Context) (*groupSnapshot[V], error) {
	if g.breaker != nil && !g.breaker.AllowRequest() {
		return nil, NewBreakerOpenError(g.config.Name)
	}

	start := time.Now()
	data, err := g.loader(ctx)
	g.loads.Add(1)
	g.metrics.RecordHistogram("appkit_cache_load_seconds", g.labels, time.Since(start).Seconds())

	if err != nil {
		g.loadFailures.Add(1)
		g.metrics.IncrementCounter("appkit_cache_load_failures_total", g.labels, 1)
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		return nil, NewCacheLoadFailedError(g.config.Name, "", err)
	}

	if g.breaker != nil {
		g.breaker.RecordSuccess()
	}

	copied := make(map[string]V, len(data))
	for key, value := range data {
		copied[key] = value
	}

	snap := &groupSnapshot[V]{
		data:     copied,
		loadedAt: timecache.CachedTime(),
	}
	g.snapshot.Store(snap)
	g.metrics.SetGauge("appkit_cache_entries", g.labels, float64(len(copied)))
	return snap, nil
}
