// errors.go: structured error definitions for the go-appkit library
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for the go-appkit library
const (
	// Cache errors (1000-1099)
	ErrCodeCacheNotFound      = "CACHE_1001"
	ErrCodeCacheExists        = "CACHE_1002"
	ErrCodeCacheClosed        = "CACHE_1003"
	ErrCodeCacheLoadFailed    = "CACHE_1004"
	ErrCodeCacheKeyNotFound   = "CACHE_1005"
	ErrCodeCacheTypeMismatch  = "CACHE_1006"
	ErrCodeCacheRefreshFailed = "CACHE_1007"
	ErrCodeInvalidCacheName   = "CACHE_1008"
	ErrCodeManagerShutdown    = "CACHE_1009"

	// Circuit breaker errors (1100-1199)
	ErrCodeBreakerOpen = "BREAKER_1101"

	// Runner errors (1200-1299)
	ErrCodeRunnerShutdown  = "RUNNER_1201"
	ErrCodeRunnerQueueFull = "RUNNER_1202"
	ErrCodeTaskPanic       = "RUNNER_1203"
	ErrCodeTaskTimeout     = "RUNNER_1204"
	ErrCodeInvalidTask     = "RUNNER_1205"
	ErrCodeDrainTimeout    = "RUNNER_1206"

	// Session errors (1300-1399)
	ErrCodeSessionNotFound = "SESSION_1301"
	ErrCodeSessionClosed   = "SESSION_1302"
	ErrCodeTokenInvalid    = "SESSION_1303"
	ErrCodeTokenExpired    = "SESSION_1304"
	ErrCodeMissingUser     = "SESSION_1305"

	// i18n errors (1400-1499)
	ErrCodeLocaleUnsupported = "I18N_1401"
	ErrCodeInvalidLocale     = "I18N_1402"
	ErrCodeUnknownCurrency   = "I18N_1403"

	// Configuration errors (1500-1599)
	ErrCodeConfigNotFound   = "CONFIG_1501"
	ErrCodeConfigParseError = "CONFIG_1502"
	ErrCodeConfigInvalid    = "CONFIG_1503"
	ErrCodeConfigWatchError = "CONFIG_1504"

	// Crypto and arithmetic errors (1600-1699)
	ErrCodeCryptoRandom  = "CRYPTO_1601"
	ErrCodeArithOverflow = "ARITH_1602"
	ErrCodeDivideByZero  = "ARITH_1603"

	// Facade lifecycle errors (1700-1799)
	ErrCodeAppsShutdown     = "APPS_1701"
	ErrCodeShutdownFailed   = "APPS_1702"
	ErrCodeComponentMissing = "APPS_1703"
)

// Cache error constructors

func NewCacheNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeCacheNotFound, "Cache not found").
		WithUserMessage("The requested cache is not registered").
		WithContext("cache_name", name).
		WithSeverity("error")
}

func NewCacheExistsError(name string) *errors.Error {
	return errors.New(ErrCodeCacheExists, "Cache already registered").
		WithUserMessage("Cache names must be unique within a manager").
		WithContext("cache_name", name).
		WithSeverity("error")
}

func NewCacheClosedError(name string) *errors.Error {
	return errors.New(ErrCodeCacheClosed, "Cache is closed").
		WithUserMessage("The cache has been closed and no longer accepts operations").
		WithContext("cache_name", name).
		WithSeverity("warning")
}

func NewCacheLoadFailedError(name, key string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCacheLoadFailed, "Cache load failed").
		WithUserMessage("The cache loader failed to produce a value").
		WithContext("cache_name", name).
		WithContext("key", key).
		WithSeverity("error").
		AsRetryable()
}

func NewCacheKeyNotFoundError(name, key string) *errors.Error {
	return errors.New(ErrCodeCacheKeyNotFound, "Key not found").
		WithUserMessage("The requested key is not present in the cache").
		WithContext("cache_name", name).
		WithContext("key", key).
		WithSeverity("warning")
}

func NewCacheTypeMismatchError(name string) *errors.Error {
	return errors.New(ErrCodeCacheTypeMismatch, "Cache type mismatch").
		WithUserMessage("The cache is registered with a different value type").
		WithContext("cache_name", name).
		WithSeverity("error")
}

func NewCacheRefreshFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCacheRefreshFailed, "Cache refresh failed").
		WithUserMessage("The cache could not be refreshed from its loader").
		WithContext("cache_name", name).
		WithSeverity("error").
		AsRetryable()
}

func NewInvalidCacheNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidCacheName, "Invalid cache name").
		WithUserMessage("Cache name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewManagerShutdownError() *errors.Error {
	return errors.New(ErrCodeManagerShutdown, "Cache manager is shut down").
		WithUserMessage("The cache manager no longer accepts registrations").
		WithSeverity("warning")
}

// Circuit breaker error constructors

func NewBreakerOpenError(name string) *errors.Error {
	return errors.New(ErrCodeBreakerOpen, "Circuit breaker is open").
		WithUserMessage("The loader is temporarily disabled after repeated failures").
		WithContext("cache_name", name).
		WithSeverity("warning").
		AsRetryable()
}

// Runner error constructors

func NewRunnerShutdownError(name string) *errors.Error {
	return errors.New(ErrCodeRunnerShutdown, "Runner is shut down").
		WithUserMessage("The runner no longer accepts tasks").
		WithContext("runner_name", name).
		WithSeverity("warning")
}

func NewRunnerQueueFullError(name string, queueSize int) *errors.Error {
	return errors.New(ErrCodeRunnerQueueFull, "Runner queue is full").
		WithUserMessage("The task queue is at capacity; retry later or use a blocking submit policy").
		WithContext("runner_name", name).
		WithContext("queue_size", queueSize).
		WithSeverity("warning").
		AsRetryable()
}

func NewTaskPanicError(taskName string, recovered interface{}) *errors.Error {
	return errors.New(ErrCodeTaskPanic, "Task panicked").
		WithUserMessage("The task terminated with a panic; see logs for the stack trace").
		WithContext("task_name", taskName).
		WithContext("panic_value", recovered).
		WithSeverity("error")
}

func NewTaskTimeoutError(taskName string, timeout time.Duration) *errors.Error {
	return errors.New(ErrCodeTaskTimeout, "Task timed out").
		WithUserMessage("The task did not complete within the configured timeout").
		WithContext("task_name", taskName).
		WithContext("timeout", timeout.String()).
		WithSeverity("warning").
		AsRetryable()
}

func NewInvalidTaskError() *errors.Error {
	return errors.New(ErrCodeInvalidTask, "Invalid task").
		WithUserMessage("A task with a non-nil run function is required").
		WithSeverity("error")
}

func NewDrainTimeoutError(name string, pending int64) *errors.Error {
	return errors.New(ErrCodeDrainTimeout, "Drain timed out").
		WithUserMessage("Tasks were still running when the drain deadline expired").
		WithContext("runner_name", name).
		WithContext("pending_tasks", pending).
		WithSeverity("warning")
}

// Session error constructors

func NewSessionNotFoundError(sessionID string) *errors.Error {
	return errors.New(ErrCodeSessionNotFound, "Session not found").
		WithUserMessage("The session does not exist or has expired").
		WithContext("session_id", sessionID).
		WithSeverity("warning")
}

func NewSessionClosedError() *errors.Error {
	return errors.New(ErrCodeSessionClosed, "Session manager is closed").
		WithUserMessage("The session manager has been stopped").
		WithSeverity("warning")
}

func NewTokenInvalidError(cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeTokenInvalid, "Invalid session token").
		WithUserMessage("The session token could not be verified").
		WithSeverity("error")
}

func NewTokenExpiredError() *errors.Error {
	return errors.New(ErrCodeTokenExpired, "Session token expired").
		WithUserMessage("The session token has expired; create a new session").
		WithSeverity("warning")
}

func NewMissingUserError() *errors.Error {
	return errors.New(ErrCodeMissingUser, "Missing user").
		WithUserMessage("A user with a non-empty ID is required to create a session").
		WithSeverity("error")
}

// i18n error constructors

func NewLocaleUnsupportedError(locale string) *errors.Error {
	return errors.New(ErrCodeLocaleUnsupported, "Locale not supported").
		WithUserMessage("The locale is not in the configured locale set").
		WithContext("locale", locale).
		WithSeverity("warning")
}

func NewInvalidLocaleError(locale string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInvalidLocale, "Invalid locale tag").
		WithUserMessage("The locale is not a well-formed BCP 47 tag").
		WithContext("locale", locale).
		WithSeverity("error")
}

func NewUnknownCurrencyError(code string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeUnknownCurrency, "Unknown currency code").
		WithUserMessage("The currency code is not a known ISO 4217 code").
		WithContext("currency_code", code).
		WithSeverity("error")
}

// Configuration error constructors

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file does not exist or is not readable").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("The configuration file could not be parsed").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigInvalidError(field, reason string) *errors.Error {
	return errors.New(ErrCodeConfigInvalid, "Invalid configuration").
		WithUserMessage("The configuration failed validation").
		WithContext("field", field).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewConfigWatchError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatchError, "Configuration watch error").
		WithUserMessage("The configuration file watcher failed").
		WithContext("config_path", path).
		WithSeverity("error").
		AsRetryable()
}

// Crypto and arithmetic error constructors

func NewCryptoRandomError(cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCryptoRandom, "Random generation failed").
		WithUserMessage("The system entropy source failed").
		WithSeverity("error").
		AsRetryable()
}

func NewArithOverflowError(op string, a, b int64) *errors.Error {
	return errors.New(ErrCodeArithOverflow, "Arithmetic overflow").
		WithUserMessage("The operation overflows the int64 range").
		WithContext("operation", op).
		WithContext("a", a).
		WithContext("b", b).
		WithSeverity("error")
}

func NewDivideByZeroError() *errors.Error {
	return errors.New(ErrCodeDivideByZero, "Division by zero").
		WithUserMessage("The divisor must be non-zero").
		WithSeverity("error")
}

// Facade lifecycle error constructors

func NewAppsShutdownError() *errors.Error {
	return errors.New(ErrCodeAppsShutdown, "Application facade is shut down").
		WithUserMessage("The facade has been shut down and no longer accepts operations").
		WithSeverity("warning")
}

func NewShutdownFailedError(phase string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeShutdownFailed, "Shutdown phase failed").
		WithUserMessage("A component failed to shut down cleanly").
		WithContext("phase", phase).
		WithSeverity("error")
}

func NewComponentMissingError(component string) *errors.Error {
	return errors.New(ErrCodeComponentMissing, "Component not configured").
		WithUserMessage("The requested component was not enabled on this facade").
		WithContext("component", component).
		WithSeverity("error")
}
