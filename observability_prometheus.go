// observability_prometheus.go: Prometheus-backed MetricsCollector implementation
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsCollector implements MetricsCollector on top of
// prometheus/client_golang. Metric vectors are created lazily on first use,
// with label names derived from the sorted label keys of that first call.
// Later calls with a different label set for the same metric name are
// rejected by the prometheus client; the collector logs and drops them
// instead of panicking.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	collector := NewPrometheusMetricsCollector("appkit", reg, logger)
//	apps, err := NewApps().WithMetrics(collector).Build()
type PrometheusMetricsCollector struct {
	registerer prometheus.Registerer
	namespace  string
	logger     Logger

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsCollector creates a collector registering metrics on reg.
//
// The namespace is prefixed to every metric name in the usual prometheus
// fashion ("appkit" yields "appkit_cache_hits_total"). A nil registerer
// falls back to prometheus.DefaultRegisterer.
func NewPrometheusMetricsCollector(namespace string, reg prometheus.Registerer, logger Logger) *PrometheusMetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	return &PrometheusMetricsCollector{
		registerer: reg,
		namespace:  namespace,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// IncrementCounter implements MetricsCollector.
func (p *PrometheusMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	vec := p.counterVec(name, labelNames(labels))
	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		p.logger.Warn("Dropping counter with inconsistent labels", "metric", name, "error", err)
		return
	}
	counter.Add(float64(value))
}

// SetGauge implements MetricsCollector.
func (p *PrometheusMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	vec := p.gaugeVec(name, labelNames(labels))
	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		p.logger.Warn("Dropping gauge with inconsistent labels", "metric", name, "error", err)
		return
	}
	gauge.Set(value)
}

// RecordHistogram implements MetricsCollector.
func (p *PrometheusMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	vec := p.histogramVec(name, labelNames(labels))
	histogram, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		p.logger.Warn("Dropping histogram with inconsistent labels", "metric", name, "error", err)
		return
	}
	histogram.Observe(value)
}

// RecordCustomMetric implements MetricsCollector. Numeric values are recorded
// as gauges; anything else is dropped with a debug log since prometheus has
// no free-form value type.
func (p *PrometheusMetricsCollector) RecordCustomMetric(name string, labels map[string]string, value interface{}) {
	switch v := value.(type) {
	case int:
		p.SetGauge(name, labels, float64(v))
	case int64:
		p.SetGauge(name, labels, float64(v))
	case float64:
		p.SetGauge(name, labels, v)
	case float32:
		p.SetGauge(name, labels, float64(v))
	default:
		p.logger.Debug("Dropping non-numeric custom metric", "metric", name, "type", fmt.Sprintf("%T", value))
	}
}

// GetMetrics implements MetricsCollector. When the registerer is also a
// Gatherer (the common *prometheus.Registry case) the snapshot is built from
// a gather pass; otherwise only the known metric names are reported.
func (p *PrometheusMetricsCollector) GetMetrics() map[string]interface{} {
	result := make(map[string]interface{})

	gatherer, ok := p.registerer.(prometheus.Gatherer)
	if !ok {
		p.mu.RLock()
		defer p.mu.RUnlock()
		for name := range p.counters {
			result[name] = "counter"
		}
		for name := range p.gauges {
			result[name] = "gauge"
		}
		for name := range p.histograms {
			result[name] = "histogram"
		}
		return result
	}

	families, err := gatherer.Gather()
	if err != nil {
		p.logger.Warn("Metrics gather failed", "error", err)
		return result
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			if len(metric.GetLabel()) > 0 {
				pairs := make([]string, 0, len(metric.GetLabel()))
				for _, label := range metric.GetLabel() {
					pairs = append(pairs, fmt.Sprintf("%s=%s", label.GetName(), label.GetValue()))
				}
				sort.Strings(pairs)
				key = fmt.Sprintf("%s{%s}", key, strings.Join(pairs, ","))
			}

			switch {
			case metric.GetCounter() != nil:
				result[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				result[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				result[key] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return result
}

func (p *PrometheusMetricsCollector) counterVec(name string, names []string) *prometheus.CounterVec {
	p.mu.RLock()
	vec, ok := p.counters[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.counters[name]; ok {
		return vec
	}

	vec = promauto.With(p.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
	}, names)
	p.counters[name] = vec
	return vec
}

func (p *PrometheusMetricsCollector) gaugeVec(name string, names []string) *prometheus.GaugeVec {
	p.mu.RLock()
	vec, ok := p.gauges[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.gauges[name]; ok {
		return vec
	}

	vec = promauto.With(p.registerer).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
	}, names)
	p.gauges[name] = vec
	return vec
}

func (p *PrometheusMetricsCollector) histogramVec(name string, names []string) *prometheus.HistogramVec {
	p.mu.RLock()
	vec, ok := p.histograms[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.histograms[name]; ok {
		return vec
	}

	vec = promauto.With(p.registerer).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Buckets:   prometheus.DefBuckets,
	}, names)
	p.histograms[name] = vec
	return vec
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
