// task_tracker.go: in-flight task tracking and graceful draining
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TaskTracker monitors in-flight tasks for graceful draining.
//
// Runners report task start and end; shutdown paths poll the tracker
// until everything in flight has finished or the drain deadline expires.
// Counters are per task name so stats and drain progress stay attributable.
type TaskTracker struct {
	// Per-task-name active counters
	active map[string]*atomic.Int64
	mu     sync.RWMutex

	total atomic.Int64

	// Observability integration
	metricsCollector MetricsCollector
	metricsEnabled   bool
	metricsPrefix    string
}

// NewTaskTracker creates a tracker without metrics reporting.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{
		active:        make(map[string]*atomic.Int64),
		metricsPrefix: "appkit",
	}
}

// NewTaskTrackerWithObservability creates a tracker that mirrors its
// counters into the given collector.
func NewTaskTrackerWithObservability(collector MetricsCollector, prefix string) *TaskTracker {
	if prefix == "" {
		prefix = "appkit"
	}
	return &TaskTracker{
		active:           make(map[string]*atomic.Int64),
		metricsCollector: collector,
		metricsEnabled:   collector != nil,
		metricsPrefix:    prefix,
	}
}

// Begin increments the active counter for a task name.
func (tt *TaskTracker) Begin(taskName string) {
	tt.mu.RLock()
	counter, exists := tt.active[taskName]
	tt.mu.RUnlock()

	if !exists {
		tt.mu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = tt.active[taskName]; !exists {
			counter = &atomic.Int64{}
			tt.active[taskName] = counter
		}
		tt.mu.Unlock()
	}

	counter.Add(1)
	tt.total.Add(1)

	if tt.metricsEnabled && tt.metricsCollector != nil {
		labels := map[string]string{"task": taskName}
		tt.metricsCollector.IncrementCounter(tt.metricsPrefix+"_tasks_started_total", labels, 1)
		tt.metricsCollector.SetGauge(tt.metricsPrefix+"_tasks_active", labels, float64(counter.Load()))
	}
}

// End decrements the active counter for a task name.
func (tt *TaskTracker) End(taskName string) {
	tt.mu.RLock()
	counter, exists := tt.active[taskName]
	tt.mu.RUnlock()

	if !exists {
		return
	}

	remaining := counter.Add(-1)
	tt.total.Add(-1)

	if tt.metricsEnabled && tt.metricsCollector != nil {
		labels := map[string]string{"task": taskName}
		tt.metricsCollector.IncrementCounter(tt.metricsPrefix+"_tasks_ended_total", labels, 1)
		tt.metricsCollector.SetGauge(tt.metricsPrefix+"_tasks_active", labels, float64(remaining))
	}
}

// ActiveCount returns the number of in-flight tasks with the given name.
func (tt *TaskTracker) ActiveCount(taskName string) int64 {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	if counter, exists := tt.active[taskName]; exists {
		return counter.Load()
	}
	return 0
}

// TotalActive returns the number of in-flight tasks across all names.
func (tt *TaskTracker) TotalActive() int64 {
	return tt.total.Load()
}

// ActiveByTask returns a snapshot of in-flight counts per task name.
// Names whose counter has returned to zero are included with value 0.
func (tt *TaskTracker) ActiveByTask() map[string]int64 {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make(map[string]int64, len(tt.active))
	for name, counter := range tt.active {
		result[name] = counter.Load()
	}
	return result
}

// WaitForDrain polls until no task is in flight or ctx is done.
// Returns true when everything drained, false on ctx expiry.
func (tt *TaskTracker) WaitForDrain(ctx context.Context) bool {
	if tt.TotalActive() == 0 {
		return true
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if tt.TotalActive() == 0 {
				return true
			}
		}
	}
}
