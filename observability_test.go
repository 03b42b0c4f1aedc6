// observability_test.go: test coverage for the in-process metrics collectors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryMetricsCollector verifies the map-backed collector that the
// rest of the test suite asserts against.
func TestInMemoryMetricsCollector(t *testing.T) {
	t.Run("counter_accumulates", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()
		labels := map[string]string{"cache": "prices"}

		collector.IncrementCounter("cache_hits_total", labels, 2)
		collector.IncrementCounter("cache_hits_total", labels, 3)

		assert.Equal(t, int64(5), collector.CounterValue("cache_hits_total", labels))
	})

	t.Run("counter_value_zero_when_absent", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()
		assert.Equal(t, int64(0), collector.CounterValue("never_recorded", nil))
	})

	t.Run("gauge_overwrites", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()

		collector.SetGauge("queue_depth", nil, 10)
		collector.SetGauge("queue_depth", nil, 4)

		assert.Equal(t, 4.0, collector.GaugeValue("queue_depth", nil))
	})

	t.Run("histogram_appends_observations", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()

		collector.RecordHistogram("load_seconds", nil, 0.1)
		collector.RecordHistogram("load_seconds", nil, 0.25)

		metrics := collector.GetMetrics()
		observations, ok := metrics["load_seconds"].([]float64)
		require.True(t, ok, "histogram should be stored as []float64")
		assert.Equal(t, []float64{0.1, 0.25}, observations)
	})

	t.Run("custom_metric_stores_value", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()

		collector.RecordCustomMetric("build_info", nil, "v1.2.3")

		assert.Equal(t, "v1.2.3", collector.GetMetrics()["build_info"])
	})

	t.Run("label_order_is_irrelevant", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()

		collector.IncrementCounter("requests_total", map[string]string{"a": "1", "b": "2"}, 1)
		collector.IncrementCounter("requests_total", map[string]string{"b": "2", "a": "1"}, 1)

		// Both calls must land on the same sorted key
		assert.Equal(t, int64(2), collector.CounterValue("requests_total", map[string]string{"a": "1", "b": "2"}))
		metrics := collector.GetMetrics()
		assert.Contains(t, metrics, "requests_total{a=1,b=2}")
	})

	t.Run("snapshot_is_a_copy", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()
		collector.SetGauge("depth", nil, 1)

		snapshot := collector.GetMetrics()
		snapshot["depth"] = 99.0

		assert.Equal(t, 1.0, collector.GaugeValue("depth", nil), "mutating the snapshot must not affect the collector")
	})

	t.Run("concurrent_updates_are_safe", func(t *testing.T) {
		collector := NewInMemoryMetricsCollector()
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					collector.IncrementCounter("ops_total", nil, 1)
					collector.SetGauge("depth", nil, float64(j))
					collector.RecordHistogram("latency", nil, float64(j))
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1000), collector.CounterValue("ops_total", nil))
	})
}

// TestNoOpMetricsCollector verifies the disabled collector is inert and safe.
func TestNoOpMetricsCollector(t *testing.T) {
	collector := NewNoOpMetricsCollector()

	collector.IncrementCounter("anything", map[string]string{"k": "v"}, 1)
	collector.SetGauge("anything", nil, 1)
	collector.RecordHistogram("anything", nil, 1)
	collector.RecordCustomMetric("anything", nil, struct{}{})

	assert.Empty(t, collector.GetMetrics())
}
