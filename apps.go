// apps.go: Fluent application facade for go-appkit
//
// This module provides the builder-pattern entry point that assembles
// logging, metrics, events, caches, sessions, localization and
// background execution into a single Apps value with one lifecycle.
//
// Key principles:
// - Convention over configuration
// - Fluent interface for readability
// - Sensible defaults for 80% of use cases
// - Every component reachable through an accessor, none mandatory to configure
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AppsBuilder provides a fluent interface for assembling an Apps facade.
//
// Builder methods never fail in place: invalid arguments are accumulated
// and the first one is returned by Build. This keeps call chains readable
// while preserving a single error-handling point.
type AppsBuilder struct {
	name string

	logger  Logger
	metrics MetricsCollector

	config      AppConfig
	configPath  string
	fileLoaded  bool
	watchConfig bool

	runner        Runner
	runnerWorkers int
	runnerQueue   int

	sessionConfig *SessionConfig
	i18nConfig    *I18nConfig

	bus *EventBus

	errors []error
}

// NewApps creates a builder with library defaults: info-level text
// logging to stdout, a CPU-sized worker pool, 30 minute sliding
// sessions and English-only localization. This is the recommended
// starting point for most applications.
//
// Example:
//
//	apps, err := NewApps().
//	    WithConfigFile("app.yaml").
//	    Build()
func NewApps() *AppsBuilder {
	return &AppsBuilder{
		name:   "app",
		config: DefaultAppConfig(),
	}
}

// Development creates a builder with development-friendly defaults.
// Debug logging is enabled, the worker pool is kept small so stack
// traces stay readable, and the drain timeout is generous to survive
// breakpoint pauses.
//
// Parameters:
//   - name: Application name used in logs and health output
//
// Example:
//
//	apps, err := Development("checkout").Build()
func Development(name string) *AppsBuilder {
	config := DefaultAppConfig()
	config.Logging.Level = "debug"
	config.Runner.Workers = 2
	config.Runner.QueueSize = 16
	config.Runner.DrainTimeout = 60 * time.Second

	return &AppsBuilder{name: name, config: config}
}

// Production creates a builder with production-ready defaults.
// Logging switches to JSON for machine ingestion, metrics collection is
// enabled out of the box, and the drain timeout is short so deploys
// roll quickly.
//
// Parameters:
//   - name: Application name used in logs and health output
//
// Example:
//
//	apps, err := Production("checkout").
//	    WithConfigFile("/etc/checkout/app.yaml").
//	    WithConfigWatching().
//	    Build()
func Production(name string) *AppsBuilder {
	config := DefaultAppConfig()
	config.Logging.Format = "json"
	config.Runner.DrainTimeout = 10 * time.Second

	return &AppsBuilder{
		name:    name,
		config:  config,
		metrics: NewInMemoryMetricsCollector(),
	}
}

// WithLogger sets the logger used by every component.
//
// Parameters:
//   - logger: Logger implementation conforming to the Logger interface
//
// Returns the builder for method chaining.
func (b *AppsBuilder) WithLogger(logger Logger) *AppsBuilder {
	if logger == nil {
		b.errors = append(b.errors, NewConfigInvalidError("logger", "logger cannot be nil"))
		return b
	}
	b.logger = logger
	return b
}

// WithLoggerBackend sets the logger from any supported backend.
// Accepted backends are the ones NewLogger understands: a Logger,
// *slog.Logger, *zap.Logger, zerolog.Logger or *logrus.Logger. An
// unsupported backend becomes a build error rather than a panic.
//
// Example:
//
//	zl, _ := zap.NewProduction()
//	apps, err := NewApps().WithLoggerBackend(zl).Build()
func (b *AppsBuilder) WithLoggerBackend(backend any) *AppsBuilder {
	logger, err := loggerFromBackend(backend)
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.logger = logger
	return b
}

// WithMetrics sets the metrics collector shared by all components.
// Caches, runners, sessions and the event bus record their counters,
// gauges and histograms through it.
//
// Parameters:
//   - metrics: Collector implementation (see InMemoryMetricsCollector
//     and PrometheusMetricsCollector for the bundled ones)
//
// Returns the builder for method chaining.
func (b *AppsBuilder) WithMetrics(metrics MetricsCollector) *AppsBuilder {
	if metrics == nil {
		b.errors = append(b.errors, NewConfigInvalidError("metrics", "collector cannot be nil"))
		return b
	}
	b.metrics = metrics
	return b
}

// WithPrometheus enables metrics collection through a Prometheus
// registerer under the "appkit" namespace. Passing nil registers on
// prometheus.DefaultRegisterer.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	apps, err := Production("checkout").WithPrometheus(reg).Build()
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func (b *AppsBuilder) WithPrometheus(reg prometheus.Registerer) *AppsBuilder {
	b.metrics = NewPrometheusMetricsCollector("appkit", reg, b.logger)
	return b
}

// WithConfig sets the full application configuration programmatically.
// Sections later overridden by WithSessions, WithI18n or WithPoolRunner
// still win over the values given here.
//
// Returns the builder for method chaining. Calling it after
// WithConfigFile is an error: one configuration source must own the
// whole document.
func (b *AppsBuilder) WithConfig(config AppConfig) *AppsBuilder {
	if b.configPath != "" {
		b.errors = append(b.errors, NewConfigInvalidError("config", "configuration file already set"))
		return b
	}
	b.config = config
	b.fileLoaded = false
	return b
}

// WithConfigFile loads the application configuration from a YAML or
// JSON file at Build time. Environment references of the form
// ${VAR} and ${VAR:-default} are expanded before parsing.
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns the builder for method chaining.
//
// Example:
//
//	apps, err := NewApps().WithConfigFile("config/app.yaml").Build()
func (b *AppsBuilder) WithConfigFile(path string) *AppsBuilder {
	if path == "" {
		b.errors = append(b.errors, NewConfigInvalidError("config", "configuration file path cannot be empty"))
		return b
	}
	b.configPath = path
	return b
}

// WithConfigWatching enables hot reload of the configuration file set
// by WithConfigFile. Changes to the dynamic subset (logging level,
// cache TTLs, session TTL) apply live; structural changes are detected
// and logged as requiring a restart.
//
// Returns the builder for method chaining. Build fails if no
// configuration file was set.
func (b *AppsBuilder) WithConfigWatching() *AppsBuilder {
	b.watchConfig = true
	return b
}

// WithRunner installs a caller-owned task runner. The facade will use
// it for cache refreshes and background work but will NOT drain it on
// Shutdown; the owner keeps that responsibility.
//
// Parameters:
//   - runner: Runner implementation (see PoolRunner and SyncRunner)
//
// Returns the builder for method chaining.
func (b *AppsBuilder) WithRunner(runner Runner) *AppsBuilder {
	if runner == nil {
		b.errors = append(b.errors, NewConfigInvalidError("runner", "runner cannot be nil"))
		return b
	}
	b.runner = runner
	return b
}

// WithPoolRunner sizes the facade-owned worker pool.
//
// Parameters:
//   - workers: Number of worker goroutines (must be > 0)
//   - queue: Task queue capacity (must be >= 0)
//
// Returns the builder for method chaining.
//
// Example:
//
//	apps, err := NewApps().WithPoolRunner(8, 256).Build()
func (b *AppsBuilder) WithPoolRunner(workers, queue int) *AppsBuilder {
	if workers <= 0 {
		b.errors = append(b.errors, NewConfigInvalidError("runner.workers", "worker count must be positive"))
		return b
	}
	if queue < 0 {
		b.errors = append(b.errors, NewConfigInvalidError("runner.queue_size", "queue size cannot be negative"))
		return b
	}
	b.runnerWorkers = workers
	b.runnerQueue = queue
	return b
}

// WithSessions overrides the session configuration section.
//
// Example:
//
//	apps, err := NewApps().WithSessions(SessionConfig{
//	    TTL:         15 * time.Minute,
//	    Sliding:     true,
//	    TokenSecret: os.Getenv("SESSION_SECRET"),
//	}).Build()
func (b *AppsBuilder) WithSessions(config SessionConfig) *AppsBuilder {
	b.sessionConfig = &config
	return b
}

// WithI18n overrides the localization configuration section.
//
// Example:
//
//	apps, err := NewApps().WithI18n(I18nConfig{
//	    DefaultLocale: "en",
//	    Locales:       []string{"en", "de", "ja"},
//	}).Build()
func (b *AppsBuilder) WithI18n(config I18nConfig) *AppsBuilder {
	b.i18nConfig = &config
	return b
}

// WithEventBus installs a caller-owned event bus so application code
// and the kit share one topic space. The facade will NOT close it on
// Shutdown; the owner keeps that responsibility.
//
// Parameters:
//   - bus: Event bus to share (must not be nil)
//
// Returns the builder for method chaining.
func (b *AppsBuilder) WithEventBus(bus *EventBus) *AppsBuilder {
	if bus == nil {
		b.errors = append(b.errors, NewConfigInvalidError("event_bus", "bus cannot be nil"))
		return b
	}
	b.bus = bus
	return b
}

// Build assembles the Apps facade.
//
// The build process:
//  1. Returns the first accumulated builder error, if any
//  2. Resolves the configuration (file, programmatic or defaults) and
//     applies the section overrides
//  3. Creates the logger, metrics collector and event bus
//  4. Creates the runner, session manager, translator and cache manager
//  5. Wires configuration hot reload when requested
//
// Returns:
//   - *Apps: Fully assembled facade, not yet started
//   - error: First accumulated or encountered error
//
// Example:
//
//	apps, err := Production("checkout").
//	    WithConfigFile("/etc/checkout/app.yaml").
//	    WithPoolRunner(8, 256).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := apps.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer apps.Shutdown(context.Background())
func (b *AppsBuilder) Build() (*Apps, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0] // return first error
	}
	if b.watchConfig && b.configPath == "" {
		return nil, NewConfigInvalidError("config", "configuration watching requires a configuration file")
	}

	config, err := b.resolveConfig()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		switch config.Logging.Format {
		case "json":
			logger = NewJSONLogger(config.Logging.Level)
		default:
			logger = NewDefaultLogger(config.Logging.Level)
		}
	}
	levels, _ := logger.(LevelController)

	metrics := b.metrics
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}

	bus := b.bus
	ownBus := false
	if bus == nil {
		bus = NewEventBus(logger.With("component", "event_bus"), metrics)
		ownBus = true
	}

	runner := b.runner
	ownRunner := false
	if runner == nil {
		pool, err := NewPoolRunnerWithObservability(config.Runner, logger, metrics)
		if err != nil {
			return nil, err
		}
		runner = pool
		ownRunner = true
	}

	sessions, err := NewSessionManager(config.Sessions,
		WithSessionLogger(logger),
		WithSessionEventBus(bus),
		WithSessionMetrics(metrics))
	if err != nil {
		return nil, err
	}

	translator, err := NewTranslator(config.I18n)
	if err != nil {
		return nil, err
	}

	caches := NewCacheManager(
		WithManagerLogger(logger),
		WithManagerMetrics(metrics),
		WithManagerEventBus(bus),
		WithManagerRunner(runner),
		WithDeclaredConfigs(config.Caches...))

	app := &Apps{
		name:      b.name,
		logger:    logger.With("app", b.name),
		metrics:   metrics,
		config:    config,
		bus:       bus,
		runner:    runner,
		caches:    caches,
		sessions:  sessions,
		i18n:      translator,
		ownBus:    ownBus,
		ownRunner: ownRunner,
	}

	if b.watchConfig {
		applicator := NewConfigApplicator(app.logger, levels, caches, sessions)
		watcher, err := NewAppConfigWatcher(b.configPath, applicator, DefaultAppConfigWatcherOptions(), app.logger)
		if err != nil {
			return nil, err
		}
		app.watcher = watcher
	}

	return app, nil
}

// resolveConfig merges the configuration sources in precedence order:
// builder section overrides beat the file, the file beats WithConfig,
// WithConfig beats the preset defaults.
func (b *AppsBuilder) resolveConfig() (AppConfig, error) {
	config := b.config

	if b.configPath != "" {
		loaded, err := LoadAppConfig(b.configPath)
		if err != nil {
			return AppConfig{}, err
		}
		config = *loaded
	}

	if b.runnerWorkers > 0 {
		config.Runner.Workers = b.runnerWorkers
		config.Runner.QueueSize = b.runnerQueue
	}
	if b.sessionConfig != nil {
		config.Sessions = *b.sessionConfig
	}
	if b.i18nConfig != nil {
		config.I18n = *b.i18nConfig
	}

	if err := config.Validate(); err != nil {
		return AppConfig{}, err
	}
	return config, nil
}

// Apps binds the kit's components behind one lifecycle.
//
// Construction happens through AppsBuilder; the zero value is not
// usable. All accessors are safe for concurrent use and never return
// nil: components not explicitly configured exist with their defaults.
type Apps struct {
	name    string
	logger  Logger
	metrics MetricsCollector
	config  AppConfig

	bus      *EventBus
	runner   Runner
	caches   *CacheManager
	sessions *SessionManager
	i18n     *Translator
	watcher  *AppConfigWatcher

	ownBus    bool
	ownRunner bool

	mu        sync.Mutex
	startedAt time.Time

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// Name returns the application name given to the builder preset.
func (a *Apps) Name() string { return a.name }

// Logger returns the shared logger.
func (a *Apps) Logger() Logger { return a.logger }

// Metrics returns the shared metrics collector.
func (a *Apps) Metrics() MetricsCollector { return a.metrics }

// Bus returns the shared event bus.
func (a *Apps) Bus() *EventBus { return a.bus }

// Runner returns the task runner used for background work.
func (a *Apps) Runner() Runner { return a.runner }

// Caches returns the cache manager.
func (a *Apps) Caches() *CacheManager { return a.caches }

// Sessions returns the session manager.
func (a *Apps) Sessions() *SessionManager { return a.sessions }

// I18n returns the translator.
func (a *Apps) I18n() *Translator { return a.i18n }

// Config returns the effective application configuration. With
// configuration watching enabled this reflects the most recently
// applied file contents, otherwise the build-time configuration.
func (a *Apps) Config() AppConfig {
	if a.watcher != nil {
		if current := a.watcher.CurrentConfig(); current != nil {
			return *current
		}
	}
	return a.config
}

// ConfigWatcher returns the configuration hot-reload watcher, or a
// component-missing error when watching was not enabled on the builder.
func (a *Apps) ConfigWatcher() (*AppConfigWatcher, error) {
	if a.watcher == nil {
		return nil, NewComponentMissingError("config_watcher")
	}
	return a.watcher, nil
}

// Start brings the facade online: the configuration watcher first so
// the initial file state is applied, then sessions, then the cache
// manager with its scheduler and file watchers, and finally the eager
// cache preload. The event bus is live from construction and needs no
// start step.
//
// A preload failure is returned but leaves every component running:
// the caller decides whether a cold cache is fatal. Start is
// idempotent; calling it after Shutdown returns an error.
func (a *Apps) Start(ctx context.Context) error {
	if a.stopped.Load() {
		return NewAppsShutdownError()
	}
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	a.startedAt = time.Now()
	a.mu.Unlock()

	a.logger.Info("Starting application")

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			// Nothing else has started yet, so a retry stays possible.
			a.started.Store(false)
			return err
		}
	}

	a.sessions.Start()

	if err := a.caches.Start(ctx); err != nil {
		return err
	}

	if err := a.caches.Preload(ctx); err != nil {
		a.logger.Warn("Cache preload finished with failures", "error", err)
		return err
	}

	a.logger.Info("Application started")
	return nil
}

// Shutdown stops every component in dependency order through the
// shutdown coordinator: configuration watcher, cache change sources
// (scheduler and file watchers), the runner drain, sessions, the
// caches themselves and finally the event bus. Caller-owned runners
// and buses are skipped; their owners stop them.
//
// Shutdown is idempotent: every call after the first returns the same
// aggregate result. The context bounds the whole sequence; each phase
// receives an equal slice of the remaining deadline.
func (a *Apps) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		a.logger.Info("Shutting down application")

		coordinator := NewShutdownCoordinator(a.logger)
		if a.watcher != nil {
			coordinator.AddPhase("config_watcher", func(context.Context) error {
				return a.watcher.Stop()
			})
		}
		coordinator.AddPhase("cache_sources", a.caches.Quiesce)
		if a.ownRunner {
			coordinator.AddPhase("runner", a.runner.Shutdown)
		}
		coordinator.AddPhase("sessions", func(context.Context) error {
			a.sessions.Stop()
			return nil
		})
		coordinator.AddPhase("caches", a.caches.Shutdown)
		if a.ownBus {
			coordinator.AddPhase("event_bus", func(context.Context) error {
				a.bus.Close()
				return nil
			})
		}

		a.stopErr = coordinator.GracefulShutdown(ctx)
		if a.stopErr == nil {
			a.logger.Info("Application shutdown complete")
		}
	})
	return a.stopErr
}

// Health reports per-component health and the aggregate state. The
// aggregate is the worst component state: one offline component makes
// the application offline, one degraded component makes it degraded.
func (a *Apps) Health() AppHealth {
	now := time.Now()
	components := make(map[string]ComponentHealth)

	for name, health := range a.caches.Health() {
		components["cache:"+name] = health
	}

	components["runner"] = a.runnerHealth(now)
	components["sessions"] = a.sessionHealth(now)
	components["event_bus"] = a.busHealth(now)
	if a.watcher != nil {
		components["config_watcher"] = a.watcherHealth(now)
	}

	return AppHealth{
		State:      aggregateState(components),
		Components: components,
		Uptime:     a.Uptime(),
		CheckedAt:  now,
	}
}

// Uptime returns the time elapsed since Start, zero before it.
func (a *Apps) Uptime() time.Duration {
	a.mu.Lock()
	startedAt := a.startedAt
	a.mu.Unlock()

	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt)
}

func (a *Apps) runnerHealth(now time.Time) ComponentHealth {
	stats := a.runner.Stats()
	health := ComponentHealth{
		State:     StateHealthy,
		LastCheck: now,
		Metadata: map[string]string{
			"workers":     strconv.Itoa(stats.Workers),
			"queue_depth": strconv.Itoa(stats.QueueDepth),
		},
	}

	if a.stopped.Load() {
		health.State = StateOffline
		health.Message = "shut down"
		return health
	}
	if stats.QueueSize > 0 && stats.QueueDepth >= stats.QueueSize {
		health.State = StateDegraded
		health.Message = "task queue saturated"
	}
	return health
}

func (a *Apps) sessionHealth(now time.Time) ComponentHealth {
	stats := a.sessions.Stats()
	health := ComponentHealth{
		State:     StateHealthy,
		LastCheck: now,
		Metadata:  map[string]string{"active": strconv.Itoa(stats.Active)},
	}

	if a.stopped.Load() {
		health.State = StateOffline
		health.Message = "shut down"
		return health
	}
	if stats.Capacity > 0 && stats.Active >= stats.Capacity {
		health.State = StateDegraded
		health.Message = "session capacity reached"
	}
	return health
}

func (a *Apps) busHealth(now time.Time) ComponentHealth {
	if a.bus.Closed() {
		return ComponentHealth{State: StateOffline, Message: "closed", LastCheck: now}
	}
	return ComponentHealth{State: StateHealthy, LastCheck: now}
}

func (a *Apps) watcherHealth(now time.Time) ComponentHealth {
	if !a.watcher.IsRunning() {
		return ComponentHealth{State: StateDegraded, Message: "not watching", LastCheck: now}
	}
	return ComponentHealth{State: StateHealthy, LastCheck: now}
}
