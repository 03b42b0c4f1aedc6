// env_config.go: environment variable expansion for configuration values
//
// This module provides ${VAR} expansion for configuration strings,
// supporting inline defaults, configurable prefixes, and security
// validation of expanded values. LoadAppConfig runs every
// configuration file through it before parsing; the per-structure
// helpers below cover configurations built in code.
//
// Supported syntax:
//   - ${VAR} - simple variable expansion
//   - ${VAR:-default} - variable with inline default value
//   - ${PREFIX_VAR} - prefixed variable expansion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvConfigOptions configures environment variable processing behavior.
//
// Example usage:
//
//	options := EnvConfigOptions{
//	    Prefix:         "APPKIT_",
//	    FailOnMissing:  false,
//	    ValidateValues: true,
//	}
type EnvConfigOptions struct {
	// Prefix for environment variables (e.g., "APPKIT_", "MYAPP_")
	Prefix string `json:"prefix" yaml:"prefix"`

	// Whether to fail when required environment variables are missing
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// Whether to validate environment variable values for security
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// Default values for undefined environment variables
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Environment-specific override values, consulted after the real
	// environment
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// DefaultEnvConfigOptions returns production-ready defaults for
// environment configuration: the standard APPKIT_ prefix, validation
// on, and missing variables resolving to their defaults instead of
// failing the load.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         "APPKIT_",
		FailOnMissing:  false,
		ValidateValues: true,
		Defaults:       make(map[string]string),
		Overrides:      make(map[string]string),
	}
}

// variablePattern matches ${VAR} and ${VAR:-default} placeholders.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvironmentVariables expands ${VAR} syntax in a configuration
// string.
//
// Each placeholder is resolved in priority order: prefixed environment
// variable, plain environment variable, configured override, inline
// default, global default. Unresolvable placeholders expand to the
// empty string unless FailOnMissing is set, in which case the first
// missing variable fails the whole expansion.
//
// Example:
//
//	expanded, err := ExpandEnvironmentVariables("${APPKIT_HOST:-localhost}:${APPKIT_PORT:-8080}", options)
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" {
		return input, nil
	}

	var expandErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		inlineDefault := ""
		if len(submatches) >= 4 {
			inlineDefault = submatches[3]
		}

		expanded, err := expandSingleEnvironmentVariable(varName, inlineDefault, options)
		if err != nil {
			if expandErr == nil {
				expandErr = err
			}
			return match
		}
		return expanded
	})

	if expandErr != nil {
		return "", expandErr
	}
	return result, nil
}

// expandSingleEnvironmentVariable resolves one variable through the
// source priority chain.
func expandSingleEnvironmentVariable(varName, inlineDefault string, options EnvConfigOptions) (string, error) {
	// Try prefixed environment variable first
	prefixedName := options.Prefix + varName
	if value := os.Getenv(prefixedName); value != "" {
		return validateAndSanitizeValue(value, options)
	}

	// Try unprefixed environment variable
	if value := os.Getenv(varName); value != "" {
		return validateAndSanitizeValue(value, options)
	}

	// Try configured override
	if value, exists := options.Overrides[varName]; exists {
		return validateAndSanitizeValue(value, options)
	}

	// Try inline default value
	if inlineDefault != "" {
		return validateAndSanitizeValue(inlineDefault, options)
	}

	// Try global default value
	if value, exists := options.Defaults[varName]; exists {
		return validateAndSanitizeValue(value, options)
	}

	if options.FailOnMissing {
		return "", NewConfigInvalidError(varName,
			fmt.Sprintf("required environment variable not found (also tried %s)", prefixedName))
	}

	// Missing variables expand to the empty string.
	return "", nil
}

// validateAndSanitizeValue validates an environment variable value
// before it enters the configuration.
//
// Security checks:
//   - Null byte detection (prevents null byte injection)
//   - Length limits (prevents memory exhaustion)
//   - Control character filtering (prevents terminal manipulation)
func validateAndSanitizeValue(value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}

	if strings.Contains(value, "\x00") {
		return "", NewConfigInvalidError("environment", "variable value contains null byte")
	}

	maxLength := 4096
	if len(value) > maxLength {
		return "", NewConfigInvalidError("environment",
			fmt.Sprintf("variable value too long: %d bytes (max %d)", len(value), maxLength))
	}

	for i, r := range value {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return "", NewConfigInvalidError("environment",
				fmt.Sprintf("variable value contains control character at position %d", i))
		}
	}

	return value, nil
}

// ExpandAppConfigEnv expands ${VAR} placeholders in the string fields
// of a configuration built in code. File-loaded configurations are
// expanded as raw text before parsing and do not need this.
func ExpandAppConfigEnv(config *AppConfig, options EnvConfigOptions) error {
	var err error

	if config.Logging.Level, err = ExpandEnvironmentVariables(config.Logging.Level, options); err != nil {
		return err
	}
	if config.Logging.Format, err = ExpandEnvironmentVariables(config.Logging.Format, options); err != nil {
		return err
	}

	if config.Sessions.TokenSecret, err = ExpandEnvironmentVariables(config.Sessions.TokenSecret, options); err != nil {
		return err
	}
	if config.Sessions.TokenIssuer, err = ExpandEnvironmentVariables(config.Sessions.TokenIssuer, options); err != nil {
		return err
	}

	for i := range config.Caches {
		if config.Caches[i].WatchFile, err = ExpandEnvironmentVariables(config.Caches[i].WatchFile, options); err != nil {
			return err
		}
	}

	for key, value := range config.Metadata {
		expanded, expandErr := ExpandEnvironmentVariables(value, options)
		if expandErr != nil {
			return expandErr
		}
		config.Metadata[key] = expanded
	}

	return nil
}

// WriteSampleAppConfig writes a commented YAML starter configuration
// demonstrating environment expansion, cache declarations and the
// common tuning knobs.
func WriteSampleAppConfig(filename string) error {
	sample := `# Application configuration
logging:
  level: "${APPKIT_LOG_LEVEL:-info}"
  format: text

runner:
  workers: 4
  queue_size: 64
  submit_policy: block
  drain_timeout: 30s

caches:
  - name: countries
    ttl: 10m
    mode: eager
    refresh_interval: 5m
    stale_on_error: true
  - name: exchange-rates
    ttl: 1m
    mode: lazy
    invalidate_on: ["rates.updated"]

sessions:
  ttl: 30m
  sliding: true
  token_secret: "${APPKIT_TOKEN_SECRET}"
  token_issuer: my-app

i18n:
  default_locale: en
  locales: [en, de, it]
`
	if err := os.WriteFile(filename, []byte(sample), 0600); err != nil {
		return NewConfigParseError(filename, err)
	}
	return nil
}
