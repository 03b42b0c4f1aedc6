// cache_watcher.go: file change watcher that feeds cache invalidation events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// CacheWatcherOptions configures the file watcher that bridges filesystem
// changes to cache invalidation events.
type CacheWatcherOptions struct {
	// PollInterval controls how often watched files are checked for changes.
	PollInterval time.Duration

	// CacheTTL is the TTL for os.Stat caching inside Argus. Keep it below
	// PollInterval or changes will be detected one cycle late.
	CacheTTL time.Duration

	// MaxWatchedFiles bounds the number of files a single watcher may track.
	MaxWatchedFiles int

	// AuditConfig enables Argus audit logging of watch activity when
	// AuditConfig.Enabled is true.
	AuditConfig argus.AuditConfig

	// ErrorHandler receives filesystem errors encountered while polling.
	// When nil, errors are logged through the watcher's logger.
	ErrorHandler func(err error, path string)
}

// DefaultCacheWatcherOptions returns options suitable for data files that
// change occasionally (reference tables, exported snapshots): a relaxed
// poll interval and no audit trail.
func DefaultCacheWatcherOptions() CacheWatcherOptions {
	return CacheWatcherOptions{
		PollInterval:    10 * time.Second,
		CacheTTL:        5 * time.Second,
		MaxWatchedFiles: 50,
		AuditConfig:     argus.AuditConfig{Enabled: false},
	}
}

// CacheWatcher observes data files on disk and publishes an invalidation
// event on the bus whenever one of them changes. Caches registered with
// InvalidateOn topics react to those events, so a refreshed file on disk
// propagates to memory without any polling logic in the caches themselves.
//
// The watcher is built on Argus polling, which keeps it portable and
// predictable: no inotify descriptors, no platform-specific edge cases,
// and optional audit logging of every detected change.
//
// Lifecycle: register files with WatchFile, then Start. Stop is permanent;
// a stopped watcher cannot be restarted.
type CacheWatcher struct {
	bus     *EventBus
	logger  Logger
	watcher *argus.Watcher

	// auditLogger provides tamper-evident logging of file change events
	auditLogger *argus.AuditLogger

	options CacheWatcherOptions

	// mutex protects watches and serializes Start/Stop
	mutex   sync.Mutex
	watches map[string]string // path -> event topic

	// Thread-safe state management
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewCacheWatcher creates a file watcher that publishes change events on bus.
//
// The logger parameter accepts any of the supported logger types (see
// NewLogger). An audit logger is created when options.AuditConfig.Enabled
// is set; audit initialization failure is returned as ErrCodeConfigWatch.
func NewCacheWatcher(bus *EventBus, logger any, options CacheWatcherOptions) (*CacheWatcher, error) {
	internalLogger := NewLogger(logger)

	if bus == nil {
		return nil, NewConfigInvalidError("bus", "cache watcher requires an event bus")
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 10 * time.Second
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = options.PollInterval / 2
	}
	if options.MaxWatchedFiles <= 0 {
		options.MaxWatchedFiles = 50
	}

	cw := &CacheWatcher{
		bus:     bus,
		logger:  internalLogger,
		options: options,
		watches: make(map[string]string),
	}

	argusConfig := argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      options.MaxWatchedFiles,
		Audit:                options.AuditConfig,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, filepath)
			} else {
				internalLogger.Error("Cache file watching error", "error", err, "file", filepath)
			}
		},
	}
	cw.watcher = argus.New(argusConfig)

	if options.AuditConfig.Enabled {
		auditLogger, err := argus.NewAuditLogger(options.AuditConfig)
		if err != nil {
			return nil, NewConfigWatchError("failed to create audit logger for cache watcher", err)
		}
		cw.auditLogger = auditLogger
	}

	return cw, nil
}

// WatchFile registers a file whose changes publish events on the given topic.
// Multiple files may share a topic; a file may only be registered once.
// Registration is allowed both before and after Start.
func (cw *CacheWatcher) WatchFile(path, topic string) error {
	if path == "" {
		return NewConfigInvalidError("path", "watched file path cannot be empty")
	}
	if topic == "" {
		return NewConfigInvalidError("topic", "watched file topic cannot be empty")
	}
	if cw.stopped.Load() {
		return NewConfigWatchError("cache watcher has been stopped", nil)
	}

	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if existing, ok := cw.watches[path]; ok {
		cw.logger.Warn("File already watched, keeping existing topic",
			"path", path, "existing_topic", existing, "requested_topic", topic)
		return NewConfigInvalidError("path", "file is already watched: "+path)
	}

	if err := cw.watcher.Watch(path, func(event argus.ChangeEvent) {
		cw.handleFileChange(topic, event)
	}); err != nil {
		return NewConfigWatchError("failed to watch file: "+path, err)
	}

	cw.watches[path] = topic
	cw.logger.Debug("Watching file for cache invalidation", "path", path, "topic", topic)
	return nil
}

// Start begins polling the registered files for changes.
//
// Returns error if the watcher is already running or was permanently
// stopped. Files registered after Start are picked up automatically.
func (cw *CacheWatcher) Start() error {
	if cw.stopped.Load() {
		return NewConfigWatchError("cache watcher has been permanently stopped and cannot be restarted", nil)
	}

	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.enabled.CompareAndSwap(false, true) {
		return NewConfigWatchError("cache watcher is already running", nil)
	}

	if err := cw.watcher.Start(); err != nil {
		cw.enabled.Store(false)
		return NewConfigWatchError("failed to start file watcher", err)
	}

	cw.logger.Info("Cache file watcher started",
		"files", len(cw.watches),
		"poll_interval", cw.options.PollInterval)

	cw.auditEvent("cache_watcher_started", map[string]interface{}{
		"files":         len(cw.watches),
		"poll_interval": cw.options.PollInterval.String(),
	})

	return nil
}

// Stop permanently stops the watcher and closes the audit logger.
// Safe to call multiple times; only the first call performs shutdown.
func (cw *CacheWatcher) Stop() error {
	if cw.stopped.Load() {
		return nil
	}

	var stopErr error
	cw.stopOnce.Do(func() {
		cw.mutex.Lock()
		defer cw.mutex.Unlock()

		cw.stopped.Store(true)
		cw.enabled.Store(false)

		if err := cw.watcher.Stop(); err != nil {
			stopErr = NewConfigWatchError("failed to stop file watcher", err)
			return
		}

		if cw.auditLogger != nil {
			if closeErr := cw.auditLogger.Close(); closeErr != nil {
				cw.logger.Warn("Failed to close cache watcher audit logger", "error", closeErr)
			}
		}

		cw.logger.Info("Cache file watcher stopped")
	})

	return stopErr
}

// IsRunning reports whether the watcher is actively polling.
func (cw *CacheWatcher) IsRunning() bool {
	return cw.enabled.Load() && !cw.stopped.Load()
}

// WatchedFiles returns the watched paths and their topics.
func (cw *CacheWatcher) WatchedFiles() map[string]string {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	files := make(map[string]string, len(cw.watches))
	for path, topic := range cw.watches {
		files[path] = topic
	}
	return files
}

// handleFileChange translates an Argus change event into a bus event.
func (cw *CacheWatcher) handleFileChange(topic string, event argus.ChangeEvent) {
	change := changeKind(event)

	cw.logger.Debug("Watched file changed",
		"path", event.Path, "topic", topic, "change", change)

	cw.auditEvent("cache_file_changed", map[string]interface{}{
		"path":   event.Path,
		"topic":  topic,
		"change": change,
	})

	cw.bus.Publish(Event{
		Topic:  topic,
		Source: event.Path,
		Data:   map[string]string{"change": change},
	})
}

// auditEvent logs watcher activity to the audit trail when enabled.
func (cw *CacheWatcher) auditEvent(eventType string, context map[string]interface{}) {
	if cw.auditLogger != nil {
		cw.auditLogger.LogSecurityEvent(eventType, "Cache data file change", context)
	}
}

// changeKind names the kind of filesystem change an event describes.
func changeKind(event argus.ChangeEvent) string {
	switch {
	case event.IsCreate:
		return "create"
	case event.IsDelete:
		return "delete"
	case event.IsModify:
		return "modify"
	default:
		return "unknown"
	}
}
