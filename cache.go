// cache.go: Loader-backed keyed cache with TTL, refresh and stale-on-error support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// CacheLoader produces the value for a single key. Loaders are called on
// cache misses and refreshes; they must be safe for concurrent use. The
// context is the one passed to the triggering Get or Refresh call.
type CacheLoader[V any] func(ctx context.Context, key string) (V, error)

// RefreshMode selects how a cache keeps its entries fresh.
//
//   - RefreshLazy: entries are loaded on demand and reloaded after expiry
//   - RefreshEager: entries are additionally reloaded ahead of use by the
//     manager's scheduler (interval or cron) and preloaded at startup
type RefreshMode string

const (
	RefreshLazy  RefreshMode = "lazy"
	RefreshEager RefreshMode = "eager"
)

// CacheConfig declares a cache. Configs can be built in code or loaded from
// the application configuration file and bound to a loader by name at
// registration time.
type CacheConfig struct {
	// Name identifies the cache within a manager. Required.
	Name string `json:"name" yaml:"name"`

	// TTL is the entry lifetime. Zero means entries never expire.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Capacity bounds the number of entries. Zero means unbounded.
	// When the bound is reached the least recently used entry is evicted.
	Capacity uint64 `json:"capacity" yaml:"capacity"`

	// Mode selects lazy or eager refresh. Defaults to lazy.
	Mode RefreshMode `json:"mode" yaml:"mode"`

	// RefreshInterval triggers a periodic refresh of eager caches.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`

	// RefreshCron triggers refreshes of eager caches on a cron schedule.
	// Takes precedence over RefreshInterval when both are set.
	RefreshCron string `json:"refresh_cron" yaml:"refresh_cron"`

	// PreloadKeys are loaded during Preload for eager keyed caches and
	// included in every scheduled refresh.
	PreloadKeys []string `json:"preload_keys" yaml:"preload_keys"`

	// WatchFile invalidates the cache when the file changes (argus watcher).
	WatchFile string `json:"watch_file" yaml:"watch_file"`

	// InvalidateOn subscribes the cache to event bus topics. An event with
	// a key invalidates that entry; without a key the whole cache.
	InvalidateOn []string `json:"invalidate_on" yaml:"invalidate_on"`

	// ReloadOnInvalidate refreshes the cache right after an event-driven
	// invalidation instead of waiting for the next access.
	ReloadOnInvalidate bool `json:"reload_on_invalidate" yaml:"reload_on_invalidate"`

	// StaleOnError keeps serving the last good value when the loader fails
	// or the circuit breaker is open.
	StaleOnError bool `json:"stale_on_error" yaml:"stale_on_error"`

	// SlidingTTL extends an entry's lifetime on every hit.
	SlidingTTL bool `json:"sliding_ttl" yaml:"sliding_ttl"`

	// CircuitBreaker protects the loader from being hammered while failing.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// Validate checks the declaration for structural problems.
func (c *CacheConfig) Validate() error {
	if c.Name == "" {
		return NewInvalidCacheNameError(c.Name)
	}
	if c.TTL < 0 {
		return NewConfigInvalidError("ttl", "must not be negative")
	}
	if c.RefreshInterval < 0 {
		return NewConfigInvalidError("refresh_interval", "must not be negative")
	}
	switch c.Mode {
	case "", RefreshLazy, RefreshEager:
	default:
		return NewConfigInvalidError("mode", "must be \"lazy\" or \"eager\"")
	}
	return nil
}

// normalized fills defaults without touching the receiver.
func (c CacheConfig) normalized() CacheConfig {
	if c.Mode == "" {
		c.Mode = RefreshLazy
	}
	return c
}

// CacheStats is a point-in-time snapshot of a cache's counters.
type CacheStats struct {
	Name            string              `json:"name"`
	Mode            RefreshMode         `json:"mode"`
	Entries         int                 `json:"entries"`
	Hits            int64               `json:"hits"`
	Misses          int64               `json:"misses"`
	Loads           int64               `json:"loads"`
	LoadFailures    int64               `json:"load_failures"`
	StaleServed     int64               `json:"stale_served"`
	Refreshes       int64               `json:"refreshes"`
	RefreshFailures int64               `json:"refresh_failures"`
	Evictions       int64               `json:"evictions"`
	LastRefresh     time.Time           `json:"last_refresh"`
	BreakerState    CircuitBreakerState `json:"breaker_state"`
}

// Cache is a loader-backed keyed cache.
//
// Values are stored with a per-cache TTL; misses run the loader exactly once
// per key across concurrent callers (singleflight) and store the result.
// Loader errors are never cached. With StaleOnError enabled the cache keeps
// a side copy of the last good value per key and serves it across loader
// failures, including while the circuit breaker is open.
//
// A Cache is safe for concurrent use. It starts its expiry janitor on
// construction and must be closed when no longer needed; caches registered
// on a CacheManager are closed by the manager's Shutdown.
type Cache[V any] struct {
	config  CacheConfig
	loader  CacheLoader[V]
	store   *ttlcache.Cache[string, V]
	breaker *CircuitBreaker
	logger  Logger
	metrics MetricsCollector
	labels  map[string]string

	group singleflight.Group
	stale sync.Map // key -> last good V, for stale-on-error serving

	closed      atomic.Bool
	stopOnce    sync.Once
	ttlOverride atomic.Int64 // nanoseconds; positive replaces config.TTL for new entries

	hits            atomic.Int64
	misses          atomic.Int64
	loads           atomic.Int64
	loadFailures    atomic.Int64
	staleServed     atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
	evictions       atomic.Int64
	lastRefresh     atomic.Int64 // unix nanoseconds
}

// NewCache creates a keyed cache from its declaration and loader.
//
// The logger may be nil for silent operation. The expiry janitor goroutine
// starts immediately; call Close to stop it.
func NewCache[V any](config CacheConfig, loader CacheLoader[V], logger Logger) (*Cache[V], error) {
	config = config.normalized()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, NewConfigInvalidError("loader", "a cache loader is required")
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	opts := make([]ttlcache.Option[string, V], 0, 3)
	if config.TTL > 0 {
		opts = append(opts, ttlcache.WithTTL[string, V](config.TTL))
	}
	if config.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, V](config.Capacity))
	}
	if !config.SlidingTTL {
		opts = append(opts, ttlcache.WithDisableTouchOnHit[string, V]())
	}

	c := &Cache[V]{
		config:  config,
		loader:  loader,
		store:   ttlcache.New(opts...),
		logger:  logger.With("cache", config.Name),
		metrics: NewNoOpMetricsCollector(),
		labels:  map[string]string{"cache": config.Name},
	}
	if config.CircuitBreaker.Enabled {
		c.breaker = NewCircuitBreaker(config.CircuitBreaker)
	}

	c.store.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, V]) {
		c.evictions.Add(1)
		c.metrics.IncrementCounter("appkit_cache_evictions_total",
			map[string]string{"cache": config.Name, "reason": evictionReason(reason)}, 1)
		// Expired values stay available for stale-on-error serving;
		// deleted and capacity-evicted ones must not come back.
		if reason != ttlcache.EvictionReasonExpired {
			c.stale.Delete(item.Key())
		}
	})

	SafeGo(c.logger, c.store.Start)

	return c, nil
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.config.Name }

// Config returns a copy of the cache declaration.
func (c *Cache[V]) Config() CacheConfig { return c.config }

// Get returns the value for key, loading it on a miss.
//
// Concurrent callers for the same missing key share a single loader call.
// The loader receives the context of the caller that actually executes the
// load; other callers still honor their own context while waiting.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, NewCacheClosedError(c.config.Name)
	}

	if item := c.store.Get(key); item != nil {
		c.hits.Add(1)
		c.metrics.IncrementCounter("appkit_cache_hits_total", c.labels, 1)
		return item.Value(), nil
	}

	c.misses.Add(1)
	c.metrics.IncrementCounter("appkit_cache_misses_total", c.labels, 1)
	return c.loadShared(ctx, key)
}

// GetOrDefault returns the cached or loaded value, falling back to the
// provided default on any error.
func (c *Cache[V]) GetOrDefault(ctx context.Context, key string, fallback V) V {
	value, err := c.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return value
}

// Peek returns the cached value without loading, touching or counting.
func (c *Cache[V]) Peek(key string) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	item := c.store.Get(key, ttlcache.WithDisableTouchOnHit[string, V]())
	if item == nil {
		return zero, false
	}
	return item.Value(), true
}

// Put stores a value with the cache's default TTL.
func (c *Cache[V]) Put(key string, value V) {
	if c.closed.Load() {
		return
	}
	c.store.Set(key, value, c.entryTTL())
	if c.config.StaleOnError {
		c.stale.Store(key, value)
	}
}

// SetTTLOverride replaces the configured TTL for entries stored from
// now on. Existing entries keep their expiry. Zero or negative restores
// the declared TTL. Used by configuration hot reload.
func (c *Cache[V]) SetTTLOverride(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	c.ttlOverride.Store(int64(ttl))
}

// entryTTL returns the TTL for a new entry: the live override when one
// is set, otherwise the store default.
func (c *Cache[V]) entryTTL() time.Duration {
	if override := c.ttlOverride.Load(); override > 0 {
		return time.Duration(override)
	}
	return ttlcache.DefaultTTL
}

// PutTTL stores a value with an entry-specific TTL.
func (c *Cache[V]) PutTTL(key string, value V, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.store.Set(key, value, ttl)
	if c.config.StaleOnError {
		c.stale.Store(key, value)
	}
}

// Invalidate drops a single entry, reporting whether it was present. The
// stale copy is dropped as well: an explicitly invalidated value is wrong,
// not merely old.
func (c *Cache[V]) Invalidate(key string) bool {
	if c.closed.Load() {
		return false
	}
	present := c.store.Has(key)
	c.store.Delete(key)
	c.stale.Delete(key)
	return present
}

// InvalidateAll drops every entry and all stale copies.
func (c *Cache[V]) InvalidateAll() {
	if c.closed.Load() {
		return
	}
	c.store.DeleteAll()
	c.stale.Range(func(key, _ any) bool {
		c.stale.Delete(key)
		return true
	})
}

// InvalidateEntry implements ManagedCache.
func (c *Cache[V]) InvalidateEntry(key string) { c.Invalidate(key) }

// Refresh reloads every currently present key plus the configured preload
// keys through the loader.
func (c *Cache[V]) Refresh(ctx context.Context) error {
	return c.RefreshKeys(ctx)
}

// RefreshKeys reloads entries through the loader.
//
// With no keys it reloads every currently present key plus the configured
// preload keys. Individual failures are aggregated; successfully reloaded
// entries get a fresh TTL while failed ones keep their current value and
// expiry.
func (c *Cache[V]) RefreshKeys(ctx context.Context, keys ...string) error {
	if c.closed.Load() {
		return NewCacheClosedError(c.config.Name)
	}

	if len(keys) == 0 {
		keys = c.refreshKeySet()
	}

	var result *multierror.Error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := c.reload(ctx, key); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.lastRefresh.Store(timecache.CachedTimeNano())
	if err := result.ErrorOrNil(); err != nil {
		c.refreshFailures.Add(1)
		c.metrics.IncrementCounter("appkit_cache_refresh_failures_total", c.labels, 1)
		return NewCacheRefreshFailedError(c.config.Name, err)
	}

	c.refreshes.Add(1)
	c.metrics.IncrementCounter("appkit_cache_refreshes_total", c.labels, 1)
	return nil
}

// Preload warms the cache. Lazy caches skip preloading; eager ones load
// their configured preload keys.
func (c *Cache[V]) Preload(ctx context.Context) error {
	if c.config.Mode != RefreshEager || len(c.config.PreloadKeys) == 0 {
		return nil
	}
	return c.RefreshKeys(ctx, c.config.PreloadKeys...)
}

// Keys returns the keys currently present.
func (c *Cache[V]) Keys() []string {
	if c.closed.Load() {
		return nil
	}
	return c.store.Keys()
}

// Len returns the number of entries currently present.
func (c *Cache[V]) Len() int {
	if c.closed.Load() {
		return 0
	}
	return c.store.Len()
}

// EntryCount implements ManagedCache.
func (c *Cache[V]) EntryCount() int { return c.Len() }

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() CacheStats {
	stats := CacheStats{
		Name:            c.config.Name,
		Mode:            c.config.Mode,
		Entries:         c.Len(),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Loads:           c.loads.Load(),
		LoadFailures:    c.loadFailures.Load(),
		StaleServed:     c.staleServed.Load(),
		Refreshes:       c.refreshes.Load(),
		RefreshFailures: c.refreshFailures.Load(),
		Evictions:       c.evictions.Load(),
	}
	if nanos := c.lastRefresh.Load(); nanos > 0 {
		stats.LastRefresh = time.Unix(0, nanos)
	}
	if c.breaker != nil {
		stats.BreakerState = c.breaker.GetState()
	}
	return stats
}

// BreakerStats returns the loader breaker statistics, or false when the
// cache runs without breaker protection.
func (c *Cache[V]) BreakerStats() (CircuitBreakerStats, bool) {
	if c.breaker == nil {
		return CircuitBreakerStats{}, false
	}
	return c.breaker.GetStats(), true
}

// setMetrics wires a collector at registration time, before the cache is
// visible to other goroutines.
func (c *Cache[V]) setMetrics(metrics MetricsCollector) {
	if metrics != nil {
		c.metrics = metrics
	}
}

// Close stops the janitor and drops all entries. Further operations return
// ErrCodeCacheClosed. Close is idempotent.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		c.store.DeleteAll()
		c.store.Stop()
		c.logger.Debug("Cache closed")
	})
}

// loadShared funnels concurrent misses for the same key into one loader call.
func (c *Cache[V]) loadShared(ctx context.Context, key string) (V, error) {
	var zero V

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another flight may have stored the value while we queued.
		if item := c.store.Get(key); item != nil {
			return item.Value(), nil
		}
		return c.loadOne(ctx, key)
	})
	if err != nil {
		return zero, err
	}
	return value.(V), nil
}

// loadOne runs the loader for a key, honoring the breaker and stale serving,
// and stores the result on success.
func (c *Cache[V]) loadOne(ctx context.Context, key string) (V, error) {
	var zero V

	if c.breaker != nil && !c.breaker.AllowRequest() {
		if value, ok := c.staleValue(key); ok {
			c.staleServed.Add(1)
			c.metrics.IncrementCounter("appkit_cache_stale_served_total", c.labels, 1)
			return value, nil
		}
		return zero, NewBreakerOpenError(c.config.Name)
	}

	start := time.Now()
	value, err := c.loader(ctx, key)
	c.loads.Add(1)
	c.metrics.RecordHistogram("appkit_cache_load_seconds", c.labels, time.Since(start).Seconds())

	if err != nil {
		c.loadFailures.Add(1)
		c.metrics.IncrementCounter("appkit_cache_load_failures_total", c.labels, 1)
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if c.config.StaleOnError {
			if stale, ok := c.staleValue(key); ok {
				c.staleServed.Add(1)
				c.metrics.IncrementCounter("appkit_cache_stale_served_total", c.labels, 1)
				c.logger.Warn("Serving stale value after load failure", "key", key, "error", err)
				return stale, nil
			}
		}
		return zero, NewCacheLoadFailedError(c.config.Name, key, err)
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	c.store.Set(key, value, c.entryTTL())
	if c.config.StaleOnError {
		c.stale.Store(key, value)
	}
	return value, nil
}

// reload unconditionally re-runs the loader for a key. Unlike loadOne it
// never serves stale: a refresh failure surfaces so the caller can aggregate
// it, while the stored entry stays untouched.
func (c *Cache[V]) reload(ctx context.Context, key string) error {
	if c.breaker != nil && !c.breaker.AllowRequest() {
		return NewBreakerOpenError(c.config.Name)
	}

	start := time.Now()
	value, err := c.loader(ctx, key)
	c.loads.Add(1)
	c.metrics.RecordHistogram("appkit_cache_load_seconds", c.labels, time.Since(start).Seconds())

	if err != nil {
		c.loadFailures.Add(1)
		c.metrics.IncrementCounter("appkit_cache_load_failures_total", c.labels, 1)
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		return NewCacheLoadFailedError(c.config.Name, key, err)
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	c.store.Set(key, value, c.entryTTL())
	if c.config.StaleOnError {
		c.stale.Store(key, value)
	}
	return nil
}

// refreshKeySet unions present keys with configured preload keys.
func (c *Cache[V]) refreshKeySet() []string {
	keys := c.store.Keys()
	if len(c.config.PreloadKeys) == 0 {
		return keys
	}

	seen := make(map[string]struct{}, len(keys)+len(c.config.PreloadKeys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	for _, key := range c.config.PreloadKeys {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
			seen[key] = struct{}{}
		}
	}
	return keys
}

func (c *Cache[V]) staleValue(key string) (V, bool) {
	var zero V
	if !c.config.StaleOnError {
		return zero, false
	}
	raw, ok := c.stale.Load(key)
	if !ok {
		return zero, false
	}
	return raw.(V), true
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
