// breaker.go: Circuit breaker protecting cache loaders and other fallible calls
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitBreakerState represents the current operational state of a circuit breaker.
//
// The circuit breaker pattern prevents a failing backend from being hammered
// by monitoring the failure rate of loader calls and temporarily blocking
// them when failures exceed a threshold. Caches configured with StaleOnError
// keep serving the last good value while the breaker is open.
//
// State behaviors:
//   - StateClosed: Normal operation, all calls are allowed through
//   - StateOpen: Circuit is tripped, calls fail immediately without execution
//   - StateHalfOpen: Testing phase, limited calls allowed to test recovery
//
// State transitions occur automatically based on failure/success counts and timeouts.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures failure detection for a protected call site.
//
// A zero config disables the breaker entirely; DefaultCircuitBreakerConfig
// returns the thresholds used by caches that enable protection without
// overriding them.
type CircuitBreakerConfig struct {
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold    int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	MinRequestThreshold int           `json:"min_request_threshold" yaml:"min_request_threshold"`
	SuccessThreshold    int           `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns the standard loader protection thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		MinRequestThreshold: 3,
		SuccessThreshold:    2,
	}
}

// CircuitBreaker implements the circuit breaker pattern for loader resilience.
//
// This implementation provides automatic failure detection and recovery
// mechanisms so a cache whose loader keeps failing stops calling it for a
// while instead of amplifying the outage. It uses atomic operations for
// thread safety and maintains detailed statistics for monitoring.
//
// Key features:
//   - Thread-safe operation using atomic counters
//   - Configurable failure thresholds and recovery timeouts
//   - Automatic state transitions based on success/failure patterns
//   - Detailed statistics tracking for observability
//   - Graceful recovery testing through half-open state
//
// Usage example:
//
//	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
//
//	// Before calling the loader
//	if !cb.AllowRequest() {
//	    return zero, NewBreakerOpenError(name)
//	}
//
//	// After the call completes
//	if err != nil {
//	    cb.RecordFailure()
//	} else {
//	    cb.RecordSuccess()
//	}
type CircuitBreaker struct {
	config CircuitBreakerConfig

	// Atomic counters for thread safety
	state           atomic.Int32 // CircuitBreakerState
	failureCount    atomic.Int64
	successCount    atomic.Int64
	requestCount    atomic.Int64
	trips           atomic.Int64
	lastFailureTime atomic.Int64 // Unix timestamp

	// Mutex for state transitions
	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker instance with the specified configuration.
//
// The circuit breaker starts in the StateClosed state, allowing all calls to
// pass through. State transitions occur automatically based on the configured
// thresholds and the success/failure patterns of monitored operations.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		config: config,
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

// AllowRequest determines whether a call should be allowed through the circuit breaker.
//
//   - StateClosed: Always allows calls (normal operation)
//   - StateOpen: Blocks all calls until recovery timeout expires
//   - StateHalfOpen: Allows limited calls to test backend recovery
//
// The method is thread-safe and may trigger state transitions when called.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.config.Enabled {
		return true
	}

	currentState := CircuitBreakerState(cb.state.Load())

	switch currentState {
	case StateClosed:
		return true

	case StateOpen:
		// Check if recovery timeout has passed
		if cb.shouldAttemptRecovery() {
			cb.mu.Lock()
			// Double-check state after acquiring lock
			if CircuitBreakerState(cb.state.Load()) == StateOpen && cb.shouldAttemptRecovery() {
				cb.state.Store(int32(StateHalfOpen))
				cb.resetCounters()
			}
			cb.mu.Unlock()
			return CircuitBreakerState(cb.state.Load()) == StateHalfOpen
		}
		return false

	case StateHalfOpen:
		// Allow limited calls to test recovery
		return cb.requestCount.Load() < int64(cb.config.SuccessThreshold)

	default:
		return false
	}
}

// RecordSuccess records a successful call and may trigger state transitions.
//
// In StateHalfOpen the circuit closes once SuccessThreshold consecutive
// successes have been recorded; in other states only the statistics move.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.successCount.Add(1)
	cb.requestCount.Add(1)

	currentState := CircuitBreakerState(cb.state.Load())

	if currentState == StateHalfOpen {
		cb.mu.Lock()
		defer cb.mu.Unlock()

		// Check if we have enough successful calls to close the circuit
		if cb.successCount.Load() >= int64(cb.config.SuccessThreshold) {
			cb.state.Store(int32(StateClosed))
			cb.resetCounters()
		}
	}
}

// RecordFailure records a failed call and may trip the circuit open.
//
// Any failure in StateHalfOpen immediately reopens the circuit. The last
// failure timestamp feeds the recovery timeout calculation.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.failureCount.Add(1)
	cb.requestCount.Add(1)
	cb.lastFailureTime.Store(timecache.CachedTimeNano())

	currentState := CircuitBreakerState(cb.state.Load())

	// Check if we should trip the circuit breaker
	if currentState == StateClosed || currentState == StateHalfOpen {
		cb.mu.Lock()
		defer cb.mu.Unlock()

		// Check conditions for opening the circuit
		if cb.shouldOpenCircuit() && CircuitBreakerState(cb.state.Load()) != StateOpen {
			cb.state.Store(int32(StateOpen))
			cb.trips.Add(1)
			// Don't reset counters when opening - they're needed for monitoring
		}
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetStats returns statistics about the circuit breaker's operation.
//
// The returned statistics are consistent with the circuit breaker's internal
// state at the time of the call, providing a reliable snapshot for monitoring.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	return CircuitBreakerStats{
		State:        cb.GetState(),
		FailureCount: cb.failureCount.Load(),
		SuccessCount: cb.successCount.Load(),
		RequestCount: cb.requestCount.Load(),
		Trips:        cb.trips.Load(),
		LastFailure:  time.Unix(0, cb.lastFailureTime.Load()),
	}
}

// Reset forcibly resets the circuit breaker to the closed state and clears all counters.
//
// This is an administrative escape hatch, typically used after fixing the
// underlying backend issue. It bypasses the normal recovery logic.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(StateClosed))
	cb.resetCounters()
}

// shouldAttemptRecovery checks if enough time has passed since the last failure
func (cb *CircuitBreaker) shouldAttemptRecovery() bool {
	lastFailure := cb.lastFailureTime.Load()
	if lastFailure == 0 {
		return true
	}

	elapsed := time.Since(time.Unix(0, lastFailure))
	return elapsed >= cb.config.RecoveryTimeout
}

// shouldOpenCircuit determines if the circuit should be opened based on failure conditions
func (cb *CircuitBreaker) shouldOpenCircuit() bool {
	failureCount := cb.failureCount.Load()
	requestCount := cb.requestCount.Load()

	// Always allow opening if we haven't met minimum requests yet but have enough failures
	if requestCount < int64(cb.config.MinRequestThreshold) {
		return failureCount >= int64(cb.config.FailureThreshold)
	}

	// Check if failure threshold is exceeded
	return failureCount >= int64(cb.config.FailureThreshold)
}

// resetCounters resets all counters (should be called with lock held)
func (cb *CircuitBreaker) resetCounters() {
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	cb.requestCount.Store(0)
}

// CircuitBreakerStats contains statistics about circuit breaker operation.
//
// Fields:
//   - State: Current operational state (Closed/Open/HalfOpen)
//   - FailureCount: Total failures recorded since last reset
//   - SuccessCount: Total successes recorded since last reset
//   - RequestCount: Total calls processed since last reset
//   - Trips: Total closed-to-open transitions over the breaker's lifetime
//   - LastFailure: Timestamp of the most recent failure
type CircuitBreakerStats struct {
	State        CircuitBreakerState `json:"state"`
	FailureCount int64               `json:"failure_count"`
	SuccessCount int64               `json:"success_count"`
	RequestCount int64               `json:"request_count"`
	Trips        int64               `json:"trips"`
	LastFailure  time.Time           `json:"last_failure"`
}
