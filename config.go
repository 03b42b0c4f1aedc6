// config.go: application configuration model and file loading
//
// This module defines the top-level AppConfig aggregating the logging,
// runner, cache, session and i18n sections, and loads it from YAML or
// JSON files with format auto-detection and ${VAR} environment
// expansion. Loading follows a hybrid strategy: the file is parsed
// into a generic map first, duration strings are normalized, and the
// map is bound to the typed structure through JSON.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the default logger built by the application
// facade. Level changes can later be applied live through a
// LevelController backend.
type LoggingConfig struct {
	// Level is the minimum severity: debug, info, warn or error.
	Level string `json:"level" yaml:"level"`

	// Format selects text or json output for the default backend.
	Format string `json:"format" yaml:"format"`
}

// DefaultLoggingConfig returns info-level text logging.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate checks level and format against the supported values.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return NewConfigInvalidError("logging.level", "must be debug, info, warn or error")
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return NewConfigInvalidError("logging.format", "must be text or json")
	}
	return nil
}

// AppConfig is the complete declarative configuration of an
// application built on this library. Cache declarations are bound to
// their loaders at runtime by name; everything else is self-contained.
type AppConfig struct {
	Logging  LoggingConfig     `json:"logging" yaml:"logging"`
	Runner   RunnerConfig      `json:"runner" yaml:"runner"`
	Caches   []CacheConfig     `json:"caches,omitempty" yaml:"caches,omitempty"`
	Sessions SessionConfig     `json:"sessions" yaml:"sessions"`
	I18n     I18nConfig        `json:"i18n" yaml:"i18n"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DefaultAppConfig returns a configuration with every section at its
// production defaults and no cache declarations.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Logging:  DefaultLoggingConfig(),
		Runner:   DefaultRunnerConfig(),
		Sessions: DefaultSessionConfig(),
		I18n:     DefaultI18nConfig(),
	}
}

// Validate checks every section and rejects duplicate cache names.
func (c *AppConfig) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Runner.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Caches))
	for i := range c.Caches {
		if err := c.Caches[i].Validate(); err != nil {
			return err
		}
		name := c.Caches[i].Name
		if seen[name] {
			return NewConfigInvalidError("caches", fmt.Sprintf("duplicate cache name: %s", name))
		}
		seen[name] = true
	}
	if err := c.Sessions.Validate(); err != nil {
		return err
	}
	if err := c.I18n.Validate(); err != nil {
		return err
	}
	return nil
}

// CacheByName returns the declared configuration for a cache, if any.
func (c *AppConfig) CacheByName(name string) (CacheConfig, bool) {
	for i := range c.Caches {
		if c.Caches[i].Name == name {
			return c.Caches[i], true
		}
	}
	return CacheConfig{}, false
}

// LoadAppConfig loads, expands and validates an application
// configuration file. The format is auto-detected from the extension
// (YAML and JSON are supported) and ${VAR} / ${VAR:-default}
// placeholders are expanded with the standard APPKIT_ prefix before
// parsing.
func LoadAppConfig(path string) (*AppConfig, error) {
	return LoadAppConfigWithEnv(path, DefaultEnvConfigOptions())
}

// LoadAppConfigWithEnv is LoadAppConfig with caller-controlled
// environment expansion options.
func LoadAppConfigWithEnv(path string, envOptions EnvConfigOptions) (*AppConfig, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- configuration path is chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, NewConfigParseError(path, err)
	}

	expanded, err := ExpandEnvironmentVariables(string(raw), envOptions)
	if err != nil {
		return nil, NewConfigParseError(path, err)
	}

	config := DefaultAppConfig()
	if err := unmarshalAppConfig(path, []byte(expanded), &config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// unmarshalAppConfig parses the raw bytes into a generic map based on
// the detected format, normalizes duration strings, and binds the map
// to the typed configuration through JSON.
func unmarshalAppConfig(path string, data []byte, config *AppConfig) error {
	var tree map[string]any

	switch format := argus.DetectFormat(path); format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return NewConfigParseError(path, err)
		}
	case argus.FormatJSON:
		if err := json.Unmarshal(data, &tree); err != nil {
			return NewConfigParseError(path, err)
		}
	default:
		return NewConfigParseError(path, fmt.Errorf("unsupported configuration format: %s", format))
	}

	if tree == nil {
		// Empty file: keep the defaults.
		return nil
	}

	normalizeDurations(tree)
	return bindAppConfig(path, tree, config)
}

// durationKeys names the configuration fields that hold durations, so
// "5m" style values can be accepted alongside integer nanoseconds.
var durationKeys = map[string]bool{
	"ttl":              true,
	"token_ttl":        true,
	"refresh_interval": true,
	"drain_timeout":    true,
	"recovery_timeout": true,
}

// normalizeDurations walks a parsed configuration tree converting
// duration strings under known keys into integer nanoseconds. The
// metadata section is left untouched: its values are opaque strings.
func normalizeDurations(tree map[string]any) {
	for key, value := range tree {
		if key == "metadata" {
			continue
		}
		if s, ok := value.(string); ok && durationKeys[key] {
			if d, err := time.ParseDuration(s); err == nil {
				tree[key] = int64(d)
			}
			continue
		}
		switch nested := value.(type) {
		case map[string]any:
			normalizeDurations(nested)
		case []any:
			for _, item := range nested {
				if m, ok := item.(map[string]any); ok {
					normalizeDurations(m)
				}
			}
		}
	}
}

// bindAppConfig binds a generic configuration map to the typed
// structure by round-tripping through JSON. This keeps a single set of
// field names for both formats.
func bindAppConfig(path string, tree map[string]any, config *AppConfig) error {
	jsonBytes, err := json.Marshal(tree)
	if err != nil {
		return NewConfigParseError(path, err)
	}
	if err := json.Unmarshal(jsonBytes, config); err != nil {
		return NewConfigParseError(path, err)
	}
	return nil
}
