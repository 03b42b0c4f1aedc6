// cache_manager.go: central registry and lifecycle coordinator for named caches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ManagedCache is the type-erased view the manager holds of every
// registered cache, single-key and group alike. The typed accessors
// CacheOf and GroupCacheOf recover the concrete generic type.
type ManagedCache interface {
	Name() string
	Config() CacheConfig
	Preload(ctx context.Context) error
	Refresh(ctx context.Context) error
	InvalidateEntry(key string)
	InvalidateAll()
	SetTTLOverride(ttl time.Duration)
	EntryCount() int
	Stats() CacheStats
	Close()
}

// CacheManagerOption configures a CacheManager during construction.
type CacheManagerOption func(*cacheManagerOptions)

type cacheManagerOptions struct {
	logger       any
	metrics      MetricsCollector
	bus          *EventBus
	runner       Runner
	watcherOpts  CacheWatcherOptions
	declared     []CacheConfig
	preloadLimit int
}

// WithManagerLogger sets the logger for the manager and every cache it
// creates. Accepts any of the supported logger types (see NewLogger).
func WithManagerLogger(logger any) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		o.logger = logger
	}
}

// WithManagerMetrics sets the metrics collector injected into registered
// caches. Defaults to the no-op collector.
func WithManagerMetrics(metrics MetricsCollector) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithManagerEventBus shares an existing event bus with the manager.
// When omitted, the manager creates a private bus and closes it at
// shutdown.
func WithManagerEventBus(bus *EventBus) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		o.bus = bus
	}
}

// WithManagerRunner sets the runner used for asynchronous cache reloads
// (ReloadOnInvalidate) and scheduled refreshes. Defaults to a SyncRunner,
// which executes inline in the triggering goroutine.
func WithManagerRunner(runner Runner) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		o.runner = runner
	}
}

// WithManagerWatcherOptions tunes the file watcher created when a cache
// config declares a WatchFile.
func WithManagerWatcherOptions(opts CacheWatcherOptions) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		o.watcherOpts = opts
	}
}

// WithDeclaredConfigs registers cache configurations loaded from a
// configuration file. When code later registers a cache with a matching
// name, the declared tuning fields override the code-provided ones.
func WithDeclaredConfigs(configs ...CacheConfig) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		o.declared = append(o.declared, configs...)
	}
}

// WithPreloadConcurrency bounds how many caches Preload warms at once.
// Defaults to 4.
func WithPreloadConcurrency(limit int) CacheManagerOption {
	return func(o *cacheManagerOptions) {
		if limit > 0 {
			o.preloadLimit = limit
		}
	}
}

// CacheManager is the central registry for named caches.
//
// It owns the pieces a fleet of caches shares: the refresh scheduler, the
// invalidation event bus, the data-file watcher and the metrics collector.
// Registration wires each cache's declared behavior (scheduled refreshes,
// event subscriptions, file watches) so application code only deals with
// typed Cache and GroupCache handles.
//
// Registration is type-erased internally; CacheOf and GroupCacheOf recover
// the typed handle. Go methods cannot be generic, which is why the
// registration and lookup functions are package-level.
type CacheManager struct {
	logger  Logger
	metrics MetricsCollector
	bus     *EventBus
	ownBus  bool
	runner  Runner

	scheduler   *RefreshScheduler
	watcher     *CacheWatcher
	watcherOpts CacheWatcherOptions

	// mu protects caches, declared and unsubs
	mu       sync.RWMutex
	caches   map[string]ManagedCache
	declared map[string]CacheConfig
	unsubs   map[string][]func()

	preloadLimit int

	// Thread-safe state management
	started  atomic.Bool
	shutdown atomic.Bool
}

// NewCacheManager creates a cache registry with the given options.
func NewCacheManager(opts ...CacheManagerOption) *CacheManager {
	options := cacheManagerOptions{
		metrics:      &NoOpMetricsCollector{},
		watcherOpts:  DefaultCacheWatcherOptions(),
		preloadLimit: 4,
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := NewLogger(options.logger)

	bus := options.bus
	ownBus := false
	if bus == nil {
		bus = NewEventBus(logger, options.metrics)
		ownBus = true
	}

	runner := options.runner
	if runner == nil {
		runner = NewSyncRunner(logger)
	}

	m := &CacheManager{
		logger:       logger,
		metrics:      options.metrics,
		bus:          bus,
		ownBus:       ownBus,
		runner:       runner,
		scheduler:    NewRefreshScheduler(logger),
		watcherOpts:  options.watcherOpts,
		caches:       make(map[string]ManagedCache),
		declared:     make(map[string]CacheConfig),
		unsubs:       make(map[string][]func()),
		preloadLimit: options.preloadLimit,
	}

	for _, cfg := range options.declared {
		if cfg.Name == "" {
			logger.Warn("Ignoring declared cache config without a name")
			continue
		}
		m.declared[cfg.Name] = cfg
	}

	return m
}

// RegisterCache creates a single-key cache, registers it under its
// configured name and wires its scheduled refreshes, event subscriptions
// and file watches.
//
// Package-level because methods cannot introduce type parameters.
func RegisterCache[V any](m *CacheManager, config CacheConfig, loader CacheLoader[V]) (*Cache[V], error) {
	if m.shutdown.Load() {
		return nil, NewManagerShutdownError()
	}

	merged := m.mergeDeclared(config)
	cache, err := NewCache(merged, loader, m.logger)
	if err != nil {
		return nil, err
	}
	cache.setMetrics(m.metrics)

	if err := m.adopt(cache); err != nil {
		cache.Close()
		return nil, err
	}
	return cache, nil
}

// RegisterGroupCache creates a group cache, registers it under its
// configured name and wires its scheduled refreshes, event subscriptions
// and file watches.
func RegisterGroupCache[V any](m *CacheManager, config CacheConfig, loader GroupLoader[V]) (*GroupCache[V], error) {
	if m.shutdown.Load() {
		return nil, NewManagerShutdownError()
	}

	merged := m.mergeDeclared(config)
	cache, err := NewGroupCache(merged, loader, m.logger)
	if err != nil {
		return nil, err
	}
	cache.setMetrics(m.metrics)

	if err := m.adopt(cache); err != nil {
		cache.Close()
		return nil, err
	}
	return cache, nil
}

// CacheOf returns the registered single-key cache with the given name and
// value type. Returns ErrCodeCacheNotFound for unknown names and
// ErrCodeCacheTypeMismatch when the name is registered with a different
// value type or as a group cache.
func CacheOf[V any](m *CacheManager, name string) (*Cache[V], error) {
	entry, ok := m.Get(name)
	if !ok {
		return nil, NewCacheNotFoundError(name)
	}
	typed, ok := entry.(*Cache[V])
	if !ok {
		return nil, NewCacheTypeMismatchError(name)
	}
	return typed, nil
}

// GroupCacheOf returns the registered group cache with the given name and
// value type.
func GroupCacheOf[V any](m *CacheManager, name string) (*GroupCache[V], error) {
	entry, ok := m.Get(name)
	if !ok {
		return nil, NewCacheNotFoundError(name)
	}
	typed, ok := entry.(*GroupCache[V])
	if !ok {
		return nil, NewCacheTypeMismatchError(name)
	}
	return typed, nil
}

// Get returns the type-erased cache registered under name.
func (m *CacheManager) Get(name string) (ManagedCache, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.caches[name]
	return entry, ok
}

// List returns the registered cache names in sorted order.
func (m *CacheManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a cache from the registry, cancels its schedule
// entry and event subscriptions, and closes it.
func (m *CacheManager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.caches[name]
	if !ok {
		return NewCacheNotFoundError(name)
	}

	m.scheduler.Remove(name)
	for _, unsub := range m.unsubs[name] {
		unsub()
	}
	delete(m.unsubs, name)

	entry.Close()
	delete(m.caches, name)

	m.metrics.SetGauge("appkit_caches_registered", nil, float64(len(m.caches)))
	m.logger.Info("Cache unregistered", "cache", name)
	return nil
}

// Preload warms every eager cache concurrently, bounded by the configured
// preload concurrency. Individual failures are aggregated; a failed
// preload leaves its cache registered and serving lazily.
func (m *CacheManager) Preload(ctx context.Context) error {
	caches := m.snapshot()

	var (
		mu     sync.Mutex
		result *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.preloadLimit)

	for _, entry := range caches {
		g.Go(func() error {
			if err := entry.Preload(gctx); err != nil {
				m.logger.Warn("Cache preload failed", "cache", entry.Name(), "error", err)
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result.ErrorOrNil()
}

// RefreshAll refreshes every registered cache sequentially, aggregating
// failures. A failed refresh never unregisters a cache.
func (m *CacheManager) RefreshAll(ctx context.Context) error {
	var result *multierror.Error
	for _, entry := range m.snapshot() {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := entry.Refresh(ctx); err != nil {
			m.logger.Warn("Cache refresh failed", "cache", entry.Name(), "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// InvalidateAll drops every entry from every registered cache.
func (m *CacheManager) InvalidateAll() {
	for _, entry := range m.snapshot() {
		entry.InvalidateAll()
	}
}

// ApplyDeclaredConfigs replaces the declarative cache configurations at
// runtime. Future registrations merge against the new declarations;
// already registered caches pick up TTL changes through a live
// override, while structural settings (mode, watchers, topics) keep
// their registration-time values until the cache is re-registered.
func (m *CacheManager) ApplyDeclaredConfigs(configs []CacheConfig) error {
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.declared = make(map[string]CacheConfig, len(configs))
	for _, config := range configs {
		m.declared[config.Name] = config
	}
	live := make(map[string]ManagedCache, len(m.caches))
	for name, entry := range m.caches {
		live[name] = entry
	}
	m.mu.Unlock()

	for _, config := range configs {
		entry, ok := live[config.Name]
		if !ok {
			continue
		}
		if config.TTL > 0 && config.TTL != entry.Config().TTL {
			entry.SetTTLOverride(config.TTL)
			m.logger.Info("Cache TTL updated from configuration",
				"cache", config.Name, "ttl", config.TTL)
		}
	}
	return nil
}

// Start begins the refresh scheduler and the file watcher. Idempotent;
// Start after Shutdown is rejected.
func (m *CacheManager) Start(ctx context.Context) error {
	if m.shutdown.Load() {
		return NewManagerShutdownError()
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.scheduler.Start()

	m.mu.RLock()
	watcher := m.watcher
	m.mu.RUnlock()
	if watcher != nil {
		if err := watcher.Start(); err != nil {
			return err
		}
	}

	m.logger.Info("Cache manager started", "caches", len(m.snapshot()))
	return nil
}

// Quiesce stops the refresh scheduler and the file watcher without
// closing any cache. Caches keep serving reads and on-demand loads,
// only the background change sources go silent. Calling Shutdown
// afterwards is safe: the source stops are no-ops the second time.
func (m *CacheManager) Quiesce(ctx context.Context) error {
	var result *multierror.Error

	m.mu.RLock()
	watcher := m.watcher
	m.mu.RUnlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := m.scheduler.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// Shutdown stops the scheduler and the file watcher, cancels event
// subscriptions and closes every cache. Idempotent: only the first call
// performs the shutdown.
func (m *CacheManager) Shutdown(ctx context.Context) error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	m.logger.Info("Shutting down cache manager")
	var result *multierror.Error

	// Stop change sources first so nothing mutates caches mid-close.
	m.mu.RLock()
	watcher := m.watcher
	m.mu.RUnlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			m.logger.Warn("Failed to stop cache file watcher", "error", err)
			result = multierror.Append(result, err)
		}
	}

	if err := m.scheduler.Stop(ctx); err != nil {
		m.logger.Warn("Refresh scheduler did not drain in time", "error", err)
		result = multierror.Append(result, err)
	}

	m.mu.Lock()
	for name, unsubs := range m.unsubs {
		for _, unsub := range unsubs {
			unsub()
		}
		delete(m.unsubs, name)
	}
	for name, entry := range m.caches {
		entry.Close()
		delete(m.caches, name)
	}
	m.mu.Unlock()

	if m.ownBus {
		m.bus.Close()
	}

	m.logger.Info("Cache manager shutdown complete")
	return result.ErrorOrNil()
}

// Health reports per-cache health. A cache whose loader breaker is open
// is degraded; after shutdown every cache reports offline.
func (m *CacheManager) Health() map[string]ComponentHealth {
	health := make(map[string]ComponentHealth)
	down := m.shutdown.Load()

	for _, entry := range m.snapshot() {
		stats := entry.Stats()
		state := StateHealthy
		message := "ok"
		switch {
		case down:
			state = StateOffline
			message = "manager shut down"
		case stats.BreakerState == StateOpen:
			state = StateDegraded
			message = "loader circuit breaker open"
		}
		health[entry.Name()] = ComponentHealth{
			State:     state,
			Message:   message,
			LastCheck: timecache.CachedTime(),
		}
	}
	return health
}

// Stats returns a point-in-time statistics snapshot per cache.
func (m *CacheManager) Stats() map[string]CacheStats {
	stats := make(map[string]CacheStats)
	for _, entry := range m.snapshot() {
		stats[entry.Name()] = entry.Stats()
	}
	return stats
}

// EventBus returns the invalidation bus, shared or manager-owned.
func (m *CacheManager) EventBus() *EventBus { return m.bus }

// mergeDeclared overlays the declared file configuration with the same
// name onto the code-provided one. Declared non-zero tuning fields win;
// boolean flags are combined with OR since a file cannot distinguish
// "false" from "unset".
func (m *CacheManager) mergeDeclared(config CacheConfig) CacheConfig {
	m.mu.RLock()
	declared, ok := m.declared[config.Name]
	m.mu.RUnlock()
	if !ok {
		return config
	}

	if declared.TTL > 0 {
		config.TTL = declared.TTL
	}
	if declared.Capacity > 0 {
		config.Capacity = declared.Capacity
	}
	if declared.Mode != "" {
		config.Mode = declared.Mode
	}
	if declared.RefreshInterval > 0 {
		config.RefreshInterval = declared.RefreshInterval
	}
	if declared.RefreshCron != "" {
		config.RefreshCron = declared.RefreshCron
	}
	if len(declared.PreloadKeys) > 0 {
		config.PreloadKeys = declared.PreloadKeys
	}
	if declared.WatchFile != "" {
		config.WatchFile = declared.WatchFile
	}
	if len(declared.InvalidateOn) > 0 {
		config.InvalidateOn = declared.InvalidateOn
	}
	config.ReloadOnInvalidate = config.ReloadOnInvalidate || declared.ReloadOnInvalidate
	config.StaleOnError = config.StaleOnError || declared.StaleOnError
	config.SlidingTTL = config.SlidingTTL || declared.SlidingTTL
	if declared.CircuitBreaker.Enabled {
		config.CircuitBreaker = declared.CircuitBreaker
	}
	return config
}

// adopt stores a constructed cache in the registry and wires its
// schedule, subscriptions and file watch.
func (m *CacheManager) adopt(cache ManagedCache) error {
	name := cache.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.caches[name]; exists {
		return NewCacheExistsError(name)
	}
	if err := m.wire(cache); err != nil {
		return err
	}
	m.caches[name] = cache

	m.metrics.SetGauge("appkit_caches_registered", nil, float64(len(m.caches)))
	m.logger.Info("Cache registered",
		"cache", name,
		"mode", string(cache.Config().Mode),
		"ttl", cache.Config().TTL)
	return nil
}

// wire connects a cache's declared behavior to the manager's shared
// machinery. Caller holds m.mu.
func (m *CacheManager) wire(cache ManagedCache) error {
	cfg := cache.Config()
	name := cfg.Name

	switch {
	case cfg.RefreshCron != "":
		if err := m.scheduler.Add(name, cfg.RefreshCron, m.refreshJob(name)); err != nil {
			return err
		}
	case cfg.RefreshInterval > 0:
		if err := m.scheduler.AddInterval(name, cfg.RefreshInterval, m.refreshJob(name)); err != nil {
			return err
		}
	}

	topics := make([]string, 0, len(cfg.InvalidateOn)+1)
	topics = append(topics, cfg.InvalidateOn...)

	if cfg.WatchFile != "" {
		if m.watcher == nil {
			watcher, err := NewCacheWatcher(m.bus, m.logger, m.watcherOpts)
			if err != nil {
				m.scheduler.Remove(name)
				return err
			}
			m.watcher = watcher
			if m.started.Load() {
				if err := m.watcher.Start(); err != nil {
					m.scheduler.Remove(name)
					return err
				}
			}
		}
		topic := cacheFileTopic(name)
		if err := m.watcher.WatchFile(cfg.WatchFile, topic); err != nil {
			m.scheduler.Remove(name)
			return err
		}
		topics = append(topics, topic)
	}

	for _, topic := range topics {
		unsub := m.bus.Subscribe(topic, m.invalidationHandler(name, cfg.ReloadOnInvalidate))
		m.unsubs[name] = append(m.unsubs[name], unsub)
	}
	return nil
}

// refreshJob builds the scheduler callback for a cache. The refresh runs
// through the manager's runner so scheduled work shares the application's
// worker pool; the scheduler's chain already prevents overlap.
func (m *CacheManager) refreshJob(name string) func() {
	return func() {
		entry, ok := m.Get(name)
		if !ok {
			return
		}
		task := NamedTask("cache-refresh:"+name, func(ctx context.Context) error {
			return entry.Refresh(ctx)
		})
		if err := m.runner.Execute(context.Background(), task); err != nil {
			m.logger.Warn("Scheduled cache refresh failed", "cache", name, "error", err)
		}
	}
}

// invalidationHandler reacts to an invalidation event: a keyed event
// drops one entry, an unkeyed one drops the whole cache. With reload set
// the cache is refreshed asynchronously afterwards.
func (m *CacheManager) invalidationHandler(name string, reload bool) EventHandler {
	return func(evt Event) {
		entry, ok := m.Get(name)
		if !ok {
			return
		}

		if evt.Key != "" {
			entry.InvalidateEntry(evt.Key)
		} else {
			entry.InvalidateAll()
		}
		m.metrics.IncrementCounter("appkit_cache_invalidations_total",
			map[string]string{"cache": name, "topic": evt.Topic}, 1)
		m.logger.Debug("Cache invalidated by event",
			"cache", name, "topic", evt.Topic, "key", evt.Key, "source", evt.Source)

		if reload {
			m.reloadAsync(name, evt.Topic)
		}
	}
}

// reloadAsync submits a full refresh to the runner without waiting for it.
func (m *CacheManager) reloadAsync(name, reason string) {
	task := NamedTask("cache-reload:"+name, func(ctx context.Context) error {
		entry, ok := m.Get(name)
		if !ok {
			return nil
		}
		return entry.Refresh(ctx)
	})
	if _, err := m.runner.Submit(context.Background(), task); err != nil {
		m.logger.Warn("Failed to submit cache reload",
			"cache", name, "trigger", reason, "error", err)
	}
}

// snapshot returns the registered caches without holding the lock during
// iteration by callers.
func (m *CacheManager) snapshot() []ManagedCache {
	m.mu.RLock()
	defer m.mu.RUnlock()

	caches := make([]ManagedCache, 0, len(m.caches))
	for _, entry := range m.caches {
		caches = append(caches, entry)
	}
	return caches
}

// cacheFileTopic names the bus topic that a cache's watched file
// publishes on.
func cacheFileTopic(name string) string {
	return "cache." + name + ".file"
}
