// observability.go: Metrics collection interfaces and in-process implementations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsCollector defines the core interface for collecting library metrics
// across different providers.
//
// This interface provides a standardized way to collect performance and
// operational metrics from caches, runners and session stores, supporting
// various backend systems like Prometheus, StatsD, or custom metrics
// solutions. It enables consistent metric collection regardless of the
// underlying metrics infrastructure.
//
// Supported metric types:
//   - Counter: Monotonically increasing values (cache hits, task completions)
//   - Gauge: Current state values (queue depth, active sessions, entry counts)
//   - Histogram: Distribution of values (load durations, task run times)
//   - Custom: Provider-specific metrics with flexible value types
//
// Example usage:
//
//	collector.IncrementCounter("appkit_cache_hits_total",
//	    map[string]string{"cache": "users"}, 1)
//	collector.SetGauge("appkit_runner_queue_depth",
//	    map[string]string{"runner": "default"}, 42)
//	collector.RecordHistogram("appkit_cache_load_seconds",
//	    map[string]string{"cache": "users"}, 0.125)
type MetricsCollector interface {
	// Counter metrics
	IncrementCounter(name string, labels map[string]string, value int64)

	// Gauge metrics
	SetGauge(name string, labels map[string]string, value float64)

	// Histogram metrics
	RecordHistogram(name string, labels map[string]string, value float64)

	// Custom metrics
	RecordCustomMetric(name string, labels map[string]string, value interface{})

	// Get current metrics snapshot
	GetMetrics() map[string]interface{}
}

// NoOpMetricsCollector discards all metrics. Used when observability is
// disabled; every record call is a cheap no-op.
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a collector that discards everything.
func NewNoOpMetricsCollector() MetricsCollector {
	return &NoOpMetricsCollector{}
}

func (n *NoOpMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
}
func (n *NoOpMetricsCollector) SetGauge(name string, labels map[string]string, value float64)      {}
func (n *NoOpMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
}
func (n *NoOpMetricsCollector) RecordCustomMetric(name string, labels map[string]string, value interface{}) {
}
func (n *NoOpMetricsCollector) GetMetrics() map[string]interface{} {
	return map[string]interface{}{}
}

// InMemoryMetricsCollector provides a map-backed implementation of
// MetricsCollector. It is the default collector for development setups and
// the one the test suite asserts against.
type InMemoryMetricsCollector struct {
	metrics map[string]interface{}
	mu      sync.RWMutex
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector.
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		metrics: make(map[string]interface{}),
	}
}

func (c *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.buildKey(name, labels)
	if current, exists := c.metrics[key]; exists {
		if counter, ok := current.(int64); ok {
			c.metrics[key] = counter + value
		}
	} else {
		c.metrics[key] = value
	}
}

func (c *InMemoryMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[c.buildKey(name, labels)] = value
}

func (c *InMemoryMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.buildKey(name, labels)
	if current, exists := c.metrics[key]; exists {
		if histogram, ok := current.([]float64); ok {
			c.metrics[key] = append(histogram, value)
		}
	} else {
		c.metrics[key] = []float64{value}
	}
}

func (c *InMemoryMetricsCollector) RecordCustomMetric(name string, labels map[string]string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[c.buildKey(name, labels)] = value
}

func (c *InMemoryMetricsCollector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{}, len(c.metrics))
	for k, v := range c.metrics {
		result[k] = v
	}
	return result
}

// CounterValue returns the current value of a counter, 0 when absent.
// Convenience accessor for tests and health reporting.
func (c *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.metrics[c.buildKey(name, labels)].(int64); ok {
		return v
	}
	return 0
}

// GaugeValue returns the current value of a gauge, 0 when absent.
func (c *InMemoryMetricsCollector) GaugeValue(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.metrics[c.buildKey(name, labels)].(float64); ok {
		return v
	}
	return 0
}

// buildKey renders "name{k1=v1,k2=v2}" with sorted labels so the same
// label set always maps to the same key.
func (c *InMemoryMetricsCollector) buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}
