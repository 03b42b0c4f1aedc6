// config_watcher.go: hot reload of the application configuration file
//
// This module watches the application configuration file with Argus and
// applies the dynamic subset of a changed configuration live: log
// level, cache TTL overrides and the session TTL. Sections that cannot
// change without a restart (runner sizing, i18n locales) are detected
// and reported but left untouched. Every reload attempt lands in a
// bounded history for inspection and, when enabled, in the audit trail.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"fmt"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigApplicator applies the dynamic subset of an AppConfig to live
// components. Every target is optional; a nil target skips its section.
//
// Application flow:
//
//	ApplyAppConfig() orchestrates the section appliers with optional rollback
//	├── applyLoggingSection() - log level through the LevelController
//	├── applyCacheSection()   - declared configs and TTL overrides
//	└── applySessionSection() - session TTL override
type ConfigApplicator struct {
	logger   Logger
	levels   LevelController
	caches   *CacheManager
	sessions *SessionManager
}

// NewConfigApplicator creates an applicator for the given targets. Any
// target may be nil; its section is then skipped during application.
func NewConfigApplicator(logger Logger, levels LevelController, caches *CacheManager, sessions *SessionManager) *ConfigApplicator {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &ConfigApplicator{
		logger:   logger,
		levels:   levels,
		caches:   caches,
		sessions: sessions,
	}
}

// ApplyAppConfig applies the dynamic sections of config. On failure
// with rollback enabled the previous configuration is re-applied before
// the error is returned.
func (ca *ConfigApplicator) ApplyAppConfig(config AppConfig, rollbackConfig *AppConfig, enableRollback bool) error {
	if err := ca.applySections(config); err != nil {
		if enableRollback && rollbackConfig != nil {
			ca.logger.Info("Configuration application failed, attempting rollback", "error", err)
			if rollbackErr := ca.applySections(*rollbackConfig); rollbackErr != nil {
				ca.logger.Error("Configuration rollback failed", "rollback_error", rollbackErr)
				return rollbackErr
			}
			ca.logger.Info("Configuration rollback completed successfully")
		}
		return err
	}
	return nil
}

// applySections applies the sections in dependency order: logging
// first, then caches, then sessions.
func (ca *ConfigApplicator) applySections(config AppConfig) error {
	if err := ca.applyLoggingSection(config.Logging); err != nil {
		return err
	}
	if err := ca.applyCacheSection(config.Caches); err != nil {
		return err
	}
	ca.applySessionSection(config.Sessions)
	return nil
}

// applyLoggingSection changes the log level at runtime when the logger
// backend supports it.
func (ca *ConfigApplicator) applyLoggingSection(config LoggingConfig) error {
	if ca.levels == nil || config.Level == "" {
		return nil
	}
	if err := ca.levels.SetLevel(config.Level); err != nil {
		return NewConfigInvalidError("logging.level", err.Error())
	}
	ca.logger.Info("Log level applied from configuration", "level", config.Level)
	return nil
}

// applyCacheSection pushes the declared cache configurations into the
// manager: TTL overrides reach already registered caches immediately,
// everything else affects future registrations.
func (ca *ConfigApplicator) applyCacheSection(configs []CacheConfig) error {
	if ca.caches == nil || len(configs) == 0 {
		return nil
	}
	return ca.caches.ApplyDeclaredConfigs(configs)
}

// applySessionSection applies the session TTL to newly created
// sessions. Existing sessions keep their expiry.
func (ca *ConfigApplicator) applySessionSection(config SessionConfig) {
	if ca.sessions == nil || config.TTL <= 0 {
		return
	}
	if config.TTL != ca.sessions.Config().TTL {
		ca.sessions.SetTTLOverride(config.TTL)
		ca.logger.Info("Session TTL updated from configuration", "ttl", config.TTL)
	}
}

// AppConfigWatcherOptions configures configuration hot reload.
type AppConfigWatcherOptions struct {
	// PollInterval is the Argus polling interval for file changes.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL bounds how long file stat results are reused.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// RollbackOnFailure re-applies the previous configuration when a
	// changed file fails to apply.
	RollbackOnFailure bool `json:"rollback_on_failure" yaml:"rollback_on_failure"`

	// HistoryLimit bounds the kept reload records.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`

	// EnvOptions controls ${VAR} expansion of the reloaded file.
	EnvOptions EnvConfigOptions `json:"env_options" yaml:"env_options"`

	// AuditConfig enables the Argus audit trail for reload activity.
	AuditConfig argus.AuditConfig `json:"audit_config" yaml:"audit_config"`

	// ErrorHandler receives file watching errors. Defaults to logging.
	ErrorHandler func(error, string) `json:"-" yaml:"-"`
}

// DefaultAppConfigWatcherOptions returns production defaults:
// application config changes rarely, so a relaxed poll with rollback
// protection and a short history.
func DefaultAppConfigWatcherOptions() AppConfigWatcherOptions {
	return AppConfigWatcherOptions{
		PollInterval:      10 * time.Second,
		CacheTTL:          5 * time.Second,
		RollbackOnFailure: true,
		HistoryLimit:      20,
		EnvOptions:        DefaultEnvConfigOptions(),
		AuditConfig:       argus.AuditConfig{Enabled: false},
	}
}

// ReloadRecord describes one configuration reload attempt.
type ReloadRecord struct {
	Time    time.Time `json:"time"`
	Path    string    `json:"path"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Changes []string  `json:"changes,omitempty"`
}

// AppConfigWatcher hot-reloads the application configuration file.
//
// On every detected change the file is loaded, expanded and validated
// like at startup; only a configuration that passes validation reaches
// the applicator. The watcher keeps the last accepted configuration for
// rollback and inspection.
type AppConfigWatcher struct {
	configPath  string
	logger      Logger
	applicator  *ConfigApplicator
	watcher     *argus.Watcher
	auditLogger *argus.AuditLogger
	options     AppConfigWatcherOptions

	currentConfig atomic.Pointer[AppConfig]

	historyMu sync.Mutex
	history   []ReloadRecord

	mutex    sync.Mutex
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewAppConfigWatcher creates a watcher for the given configuration
// file. The applicator defines which components receive changes; the
// logger accepts any of the supported logger types (see NewLogger).
func NewAppConfigWatcher(configPath string, applicator *ConfigApplicator, options AppConfigWatcherOptions, logger any) (*AppConfigWatcher, error) {
	if configPath == "" {
		return nil, NewConfigInvalidError("config_path", "a configuration file path is required")
	}
	if applicator == nil {
		return nil, NewConfigInvalidError("applicator", "a configuration applicator is required")
	}

	internalLogger := NewLogger(logger)

	if options.PollInterval <= 0 {
		options.PollInterval = 10 * time.Second
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = options.PollInterval / 2
	}
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = 20
	}

	watcher := argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      5,
		Audit:                options.AuditConfig,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, filepath)
			} else {
				internalLogger.Error("Config file watching error", "error", err, "file", filepath)
			}
		},
	})

	var auditLogger *argus.AuditLogger
	if options.AuditConfig.Enabled {
		var err error
		auditLogger, err = argus.NewAuditLogger(options.AuditConfig)
		if err != nil {
			return nil, NewConfigWatchError(configPath, err)
		}
	}

	return &AppConfigWatcher{
		configPath:  configPath,
		logger:      internalLogger,
		applicator:  applicator,
		watcher:     watcher,
		auditLogger: auditLogger,
		options:     options,
	}, nil
}

// Start loads and applies the configuration file, then begins watching
// it for changes. A watcher that was stopped cannot be restarted.
func (w *AppConfigWatcher) Start() error {
	if w.stopped.Load() {
		return NewConfigWatchError(w.configPath,
			fmt.Errorf("config watcher has been permanently stopped and cannot be restarted"))
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.enabled.CompareAndSwap(false, true) {
		return NewConfigWatchError(w.configPath, fmt.Errorf("config watcher is already running"))
	}

	initial, err := LoadAppConfigWithEnv(w.configPath, w.options.EnvOptions)
	if err != nil {
		w.enabled.Store(false)
		return err
	}

	if err := w.applicator.ApplyAppConfig(*initial, nil, false); err != nil {
		w.enabled.Store(false)
		return err
	}
	w.currentConfig.Store(initial)

	if err := w.watcher.Watch(w.configPath, w.handleConfigChange); err != nil {
		w.enabled.Store(false)
		return NewConfigWatchError(w.configPath, err)
	}
	if err := w.watcher.Start(); err != nil {
		w.enabled.Store(false)
		return NewConfigWatchError(w.configPath, err)
	}

	w.logger.Info("Configuration watcher started",
		"config_path", w.configPath,
		"poll_interval", w.options.PollInterval,
		"rollback", w.options.RollbackOnFailure)
	w.auditEvent("config_watcher_started", map[string]interface{}{
		"config_path":   w.configPath,
		"poll_interval": w.options.PollInterval.String(),
	})

	return nil
}

// Stop permanently stops the watcher. The first call performs the stop;
// later calls return nil.
func (w *AppConfigWatcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()

		w.stopped.Store(true)
		if !w.enabled.CompareAndSwap(true, false) {
			return
		}

		if err := w.watcher.Stop(); err != nil {
			stopErr = NewConfigWatchError(w.configPath, err)
		}

		w.auditEvent("config_watcher_stopped", map[string]interface{}{
			"config_path": w.configPath,
		})
		if w.auditLogger != nil {
			if err := w.auditLogger.Close(); err != nil {
				w.logger.Warn("Failed to close audit logger", "error", err)
			}
		}

		w.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is active.
func (w *AppConfigWatcher) IsRunning() bool {
	return w.enabled.Load() && !w.stopped.Load()
}

// CurrentConfig returns the last successfully applied configuration.
func (w *AppConfigWatcher) CurrentConfig() *AppConfig {
	return w.currentConfig.Load()
}

// ReloadHistory returns the recorded reload attempts, oldest first.
func (w *AppConfigWatcher) ReloadHistory() []ReloadRecord {
	w.historyMu.Lock()
	defer w.historyMu.Unlock()
	out := make([]ReloadRecord, len(w.history))
	copy(out, w.history)
	return out
}

// handleConfigChange processes file change events from Argus.
func (w *AppConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	w.logger.Info("Configuration file change detected",
		"path", event.Path,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	if event.IsDelete {
		w.logger.Warn("Configuration file was deleted, skipping reload", "path", event.Path)
		w.auditEvent("config_file_deleted", map[string]interface{}{"path": event.Path})
		return
	}

	newConfig, err := LoadAppConfigWithEnv(event.Path, w.options.EnvOptions)
	if err != nil {
		w.logger.Error("Failed to load new configuration", "error", err, "path", event.Path)
		w.recordReload(ReloadRecord{Time: time.Now(), Path: event.Path, Error: err.Error()})
		w.auditEvent("config_load_failed", map[string]interface{}{
			"path":  event.Path,
			"error": err.Error(),
		})
		return
	}

	oldConfig := w.currentConfig.Load()
	changes := diffAppConfigs(oldConfig, newConfig)

	if err := w.applicator.ApplyAppConfig(*newConfig, oldConfig, w.options.RollbackOnFailure); err != nil {
		w.logger.Error("Failed to apply configuration changes", "error", err)
		w.recordReload(ReloadRecord{Time: time.Now(), Path: event.Path, Error: err.Error(), Changes: changes})
		w.auditEvent("config_apply_failed", map[string]interface{}{
			"path":  event.Path,
			"error": err.Error(),
		})
		return
	}

	w.currentConfig.Store(newConfig)
	w.recordReload(ReloadRecord{Time: time.Now(), Path: event.Path, Success: true, Changes: changes})

	for _, section := range changes {
		if section == "runner" || section == "i18n" {
			w.logger.Warn("Configuration section changed but requires a restart to take effect",
				"section", section)
		}
	}

	w.logger.Info("Configuration reload completed", "changes", changes)
	w.auditEvent("config_reloaded", map[string]interface{}{
		"path":    event.Path,
		"changes": changes,
	})
}

// recordReload appends to the bounded history, dropping the oldest
// record past the limit.
func (w *AppConfigWatcher) recordReload(record ReloadRecord) {
	w.historyMu.Lock()
	defer w.historyMu.Unlock()
	w.history = append(w.history, record)
	if len(w.history) > w.options.HistoryLimit {
		w.history = w.history[len(w.history)-w.options.HistoryLimit:]
	}
}

// auditEvent logs reload activity to the audit trail when enabled.
func (w *AppConfigWatcher) auditEvent(eventType string, context map[string]interface{}) {
	if w.auditLogger == nil {
		return
	}
	if context == nil {
		context = make(map[string]interface{})
	}
	context["component"] = "app_config_watcher"
	context["pid"] = os.Getpid()
	w.auditLogger.LogSecurityEvent(eventType, "Application configuration change", context)
}

// diffAppConfigs names the top-level sections that differ between two
// configurations.
func diffAppConfigs(oldConfig, newConfig *AppConfig) []string {
	if oldConfig == nil {
		return []string{"initial_configuration"}
	}

	var changes []string
	if !reflect.DeepEqual(oldConfig.Logging, newConfig.Logging) {
		changes = append(changes, "logging")
	}
	if !reflect.DeepEqual(oldConfig.Runner, newConfig.Runner) {
		changes = append(changes, "runner")
	}
	if !reflect.DeepEqual(oldConfig.Caches, newConfig.Caches) {
		changes = append(changes, "caches")
	}
	if !reflect.DeepEqual(oldConfig.Sessions, newConfig.Sessions) {
		changes = append(changes, "sessions")
	}
	if !reflect.DeepEqual(oldConfig.I18n, newConfig.I18n) {
		changes = append(changes, "i18n")
	}
	if !reflect.DeepEqual(oldConfig.Metadata, newConfig.Metadata) {
		changes = append(changes, "metadata")
	}
	return changes
}
