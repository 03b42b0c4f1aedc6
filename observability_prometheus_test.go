// observability_prometheus_test.go: test coverage for the Prometheus collector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrometheusCollector_Counters verifies counter registration and increments.
func TestPrometheusCollector_Counters(t *testing.T) {
	t.Run("counter_visible_after_gather", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := NewPrometheusMetricsCollector("appkit", reg, NewTestLogger())

		collector.IncrementCounter("cache_hits_total", map[string]string{"cache": "prices"}, 2)
		collector.IncrementCounter("cache_hits_total", map[string]string{"cache": "prices"}, 3)

		metrics := collector.GetMetrics()
		assert.Equal(t, 5.0, metrics["appkit_cache_hits_total{cache=prices}"])
	})

	t.Run("inconsistent_labels_are_dropped_not_panicking", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		logger := NewTestLogger()
		collector := NewPrometheusMetricsCollector("appkit", reg, logger)

		collector.IncrementCounter("requests_total", map[string]string{"cache": "a"}, 1)
		// Same metric name, different label set: the prometheus client rejects it
		collector.IncrementCounter("requests_total", map[string]string{"other": "b"}, 1)

		assert.True(t, logger.HasMessage("WARN", "Dropping counter with inconsistent labels"))
		metrics := collector.GetMetrics()
		assert.Equal(t, 1.0, metrics["appkit_requests_total{cache=a}"])
	})
}

// TestPrometheusCollector_GaugesAndHistograms verifies the other metric kinds.
func TestPrometheusCollector_GaugesAndHistograms(t *testing.T) {
	t.Run("gauge_set_overwrites", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := NewPrometheusMetricsCollector("appkit", reg, nil)

		collector.SetGauge("queue_depth", map[string]string{"runner": "default"}, 10)
		collector.SetGauge("queue_depth", map[string]string{"runner": "default"}, 4)

		metrics := collector.GetMetrics()
		assert.Equal(t, 4.0, metrics["appkit_queue_depth{runner=default}"])
	})

	t.Run("histogram_counts_samples", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := NewPrometheusMetricsCollector("appkit", reg, nil)

		collector.RecordHistogram("load_seconds", nil, 0.1)
		collector.RecordHistogram("load_seconds", nil, 0.2)
		collector.RecordHistogram("load_seconds", nil, 0.4)

		metrics := collector.GetMetrics()
		assert.Equal(t, uint64(3), metrics["appkit_load_seconds"])
	})
}

// TestPrometheusCollector_CustomMetrics verifies the numeric-only custom
// metric mapping.
func TestPrometheusCollector_CustomMetrics(t *testing.T) {
	t.Run("numeric_values_become_gauges", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := NewPrometheusMetricsCollector("appkit", reg, nil)

		collector.RecordCustomMetric("active_items", nil, 7)
		collector.RecordCustomMetric("ratio", nil, 0.5)

		metrics := collector.GetMetrics()
		assert.Equal(t, 7.0, metrics["appkit_active_items"])
		assert.Equal(t, 0.5, metrics["appkit_ratio"])
	})

	t.Run("non_numeric_values_are_dropped", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		logger := NewTestLogger()
		collector := NewPrometheusMetricsCollector("appkit", reg, logger)

		collector.RecordCustomMetric("build_info", nil, "v1.2.3")

		assert.True(t, logger.HasMessage("DEBUG", "Dropping non-numeric custom metric"))
		metrics := collector.GetMetrics()
		assert.NotContains(t, metrics, "appkit_build_info")
	})
}

// TestPrometheusCollector_SatisfiesInterface keeps the collector assignable
// wherever a MetricsCollector is expected.
func TestPrometheusCollector_SatisfiesInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var collector MetricsCollector = NewPrometheusMetricsCollector("appkit", reg, nil)
	require.NotNil(t, collector)

	collector.IncrementCounter("ops_total", nil, 1)
	snapshot := collector.GetMetrics()
	assert.Equal(t, 1.0, snapshot["appkit_ops_total"])
}
