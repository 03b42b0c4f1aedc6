// health_monitor.go: Periodic health monitoring for the application facade
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

// TopicHealthChanged carries aggregate state transitions observed by the
// HealthMonitor. The event data holds the previous and current state.
const TopicHealthChanged = "health.changed"

// HealthSource produces a health snapshot on demand. Apps.Health is the
// canonical source, but any function returning an AppHealth works.
type HealthSource func() AppHealth

// HealthMonitorConfig configures periodic health evaluation.
type HealthMonitorConfig struct {
	// Interval between evaluations. Defaults to 30 seconds.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// FailureLimit is how many consecutive non-healthy snapshots are
	// tolerated before the monitor escalates its log level to error.
	// Defaults to 3.
	FailureLimit int `json:"failure_limit" yaml:"failure_limit"`
}

// DefaultHealthMonitorConfig returns the monitoring defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Interval:     30 * time.Second,
		FailureLimit: 3,
	}
}

// HealthMonitor evaluates a HealthSource at a fixed interval.
//
// It tracks consecutive non-healthy observations, logs degradations with
// escalation once the failure limit is reached, and publishes aggregate
// state transitions on the event bus so application code can react
// (shed load, flip readiness probes) without polling.
//
// The monitor owns one goroutine between Start and Stop and is
// restartable: Stop waits for the loop to exit, after which Start may be
// called again.
//
// Usage example:
//
//	monitor, err := NewHealthMonitor(apps.Health, DefaultHealthMonitorConfig(),
//	    WithMonitorLogger(apps.Logger()),
//	    WithMonitorEventBus(apps.Bus()))
//	if err != nil {
//	    return err
//	}
//	monitor.Start()
//	defer monitor.Stop()
type HealthMonitor struct {
	source HealthSource
	config HealthMonitorConfig
	logger Logger
	bus    *EventBus

	consecutiveUnhealthy atomic.Int64
	lastEvaluated        atomic.Int64 // unix nanoseconds
	running              atomic.Bool

	mu       sync.Mutex
	last     AppHealth
	hasLast  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// HealthMonitorOption configures a HealthMonitor during construction.
type HealthMonitorOption func(*HealthMonitor)

// WithMonitorLogger sets the monitor's logger. Accepts any of the
// supported logger types (see NewLogger).
func WithMonitorLogger(logger any) HealthMonitorOption {
	return func(hm *HealthMonitor) {
		hm.logger = NewLogger(logger)
	}
}

// WithMonitorEventBus sets the bus receiving TopicHealthChanged events.
func WithMonitorEventBus(bus *EventBus) HealthMonitorOption {
	return func(hm *HealthMonitor) {
		hm.bus = bus
	}
}

// NewHealthMonitor creates a monitor for the given source. The monitor
// is created stopped; call Start to begin periodic evaluation.
func NewHealthMonitor(source HealthSource, config HealthMonitorConfig, opts ...HealthMonitorOption) (*HealthMonitor, error) {
	if source == nil {
		return nil, NewConfigInvalidError("health.source", "health source cannot be nil")
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.FailureLimit <= 0 {
		config.FailureLimit = 3
	}

	hm := &HealthMonitor{
		source: source,
		config: config,
		logger: NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(hm)
	}
	return hm, nil
}

// Check performs a single synchronous evaluation and returns the
// snapshot. It updates the consecutive failure counter and publishes a
// transition event when the aggregate state changed since the previous
// evaluation. Safe to call independently of the periodic loop.
func (hm *HealthMonitor) Check() AppHealth {
	health := hm.source()
	hm.lastEvaluated.Store(timecache.CachedTimeNano())

	if health.State == StateHealthy {
		if hm.consecutiveUnhealthy.Swap(0) > 0 {
			hm.logger.Info("Application back to healthy state")
		}
	} else {
		failures := hm.consecutiveUnhealthy.Add(1)
		if failures == int64(hm.config.FailureLimit) {
			hm.logger.Error("Application unhealthy beyond tolerance",
				"state", health.State.String(),
				"consecutive", failures)
		} else {
			hm.logger.Warn("Application not healthy",
				"state", health.State.String(),
				"consecutive", failures)
		}
	}

	hm.mu.Lock()
	previous, had := hm.last, hm.hasLast
	hm.last, hm.hasLast = health, true
	hm.mu.Unlock()

	if had && previous.State != health.State && hm.bus != nil {
		hm.bus.Publish(Event{
			Topic:  TopicHealthChanged,
			Source: "health_monitor",
			Data: map[string]string{
				"previous": previous.State.String(),
				"current":  health.State.String(),
			},
		})
	}

	return health
}

// Start begins periodic evaluation. Idempotent while running.
func (hm *HealthMonitor) Start() {
	if hm.running.CompareAndSwap(false, true) {
		hm.mu.Lock()
		hm.stopChan = make(chan struct{})
		hm.doneChan = make(chan struct{})
		stop, done := hm.stopChan, hm.doneChan
		hm.mu.Unlock()

		go hm.run(stop, done)
	}
}

// Stop halts the periodic loop and waits for any in-flight evaluation
// to finish. Idempotent; the monitor can be restarted afterwards.
func (hm *HealthMonitor) Stop() {
	if hm.running.CompareAndSwap(true, false) {
		hm.mu.Lock()
		stop, done := hm.stopChan, hm.doneChan
		hm.mu.Unlock()

		close(stop)
		<-done
	}
}

// IsRunning reports whether the periodic loop is active.
func (hm *HealthMonitor) IsRunning() bool {
	return hm.running.Load()
}

// Snapshot returns the most recent evaluation, false before the first one.
func (hm *HealthMonitor) Snapshot() (AppHealth, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.last, hm.hasLast
}

// LastEvaluated returns when the source was last evaluated, the zero
// time before the first evaluation.
func (hm *HealthMonitor) LastEvaluated() time.Time {
	nanos := hm.lastEvaluated.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// ConsecutiveUnhealthy returns the current run of non-healthy snapshots.
func (hm *HealthMonitor) ConsecutiveUnhealthy() int64 {
	return hm.consecutiveUnhealthy.Load()
}

// run is the periodic evaluation loop.
func (hm *HealthMonitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(hm.config.Interval)
	defer ticker.Stop()

	hm.Check()

	for {
		select {
		case <-ticker.C:
			hm.Check()
		case <-stop:
			return
		}
	}
}
