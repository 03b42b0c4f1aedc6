// runner_pool.go: fixed worker pool runner with bounded queue
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// SubmitPolicy selects the behavior of Submit when the task queue is full.
type SubmitPolicy string

const (
	// SubmitBlock waits for queue space, bounded by the submission context.
	SubmitBlock SubmitPolicy = "block"

	// SubmitReject fails immediately with ErrCodeRunnerQueueFull.
	SubmitReject SubmitPolicy = "reject"
)

// RunnerConfig configures a PoolRunner.
type RunnerConfig struct {
	// Name identifies the runner in logs, metrics and errors.
	Name string `json:"name" yaml:"name"`

	// Workers is the number of goroutines executing tasks.
	// Defaults to runtime.NumCPU().
	Workers int `json:"workers" yaml:"workers"`

	// QueueSize bounds how many tasks may wait for a worker. Defaults to 64.
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// SubmitPolicy selects blocking or rejecting behavior on a full
	// queue. Defaults to SubmitBlock.
	SubmitPolicy SubmitPolicy `json:"submit_policy" yaml:"submit_policy"`

	// DrainTimeout bounds how long Shutdown waits for queued and running
	// tasks before force-cancelling them. Defaults to 30 seconds.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// DefaultRunnerConfig returns a pool configuration sized for background
// application work.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Name:         "pool",
		Workers:      runtime.NumCPU(),
		QueueSize:    64,
		SubmitPolicy: SubmitBlock,
		DrainTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for values that cannot be defaulted.
func (c *RunnerConfig) Validate() error {
	if c.Workers < 0 {
		return NewConfigInvalidError("workers", "worker count cannot be negative")
	}
	if c.QueueSize < 0 {
		return NewConfigInvalidError("queue_size", "queue size cannot be negative")
	}
	switch c.SubmitPolicy {
	case "", SubmitBlock, SubmitReject:
	default:
		return NewConfigInvalidError("submit_policy", "must be \"block\" or \"reject\"")
	}
	return nil
}

// normalized fills zero fields with defaults.
func (c RunnerConfig) normalized() RunnerConfig {
	defaults := DefaultRunnerConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.SubmitPolicy == "" {
		c.SubmitPolicy = defaults.SubmitPolicy
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaults.DrainTimeout
	}
	return c
}

type poolItem struct {
	task   Task
	handle *TaskHandle
}

// PoolRunner executes tasks on a fixed set of worker goroutines fed by a
// bounded queue.
//
// Tasks run under the pool's base context, which Shutdown cancels once
// the drain deadline expires; long tasks should watch their context. A
// panicking task fails only its own handle, counted in Panics; workers
// survive every panic.
type PoolRunner struct {
	config  RunnerConfig
	logger  Logger
	tracker *TaskTracker

	queue chan poolItem
	wg    sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
	rejected  atomic.Int64

	// mu coordinates intake against the shutdown flip: queue sends only
	// happen under the read lock with shutdown unset, so after Shutdown
	// flips the flag under the write lock no new task can slip in.
	mu       sync.RWMutex
	shutdown atomic.Bool
}

// NewPoolRunner creates and starts a worker pool runner.
func NewPoolRunner(config RunnerConfig, logger any) (*PoolRunner, error) {
	return NewPoolRunnerWithObservability(config, logger, nil)
}

// NewPoolRunnerWithObservability creates a pool runner whose task
// tracking is mirrored into the given metrics collector.
func NewPoolRunnerWithObservability(config RunnerConfig, logger any, collector MetricsCollector) (*PoolRunner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.normalized()

	internalLogger := NewLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())

	p := &PoolRunner{
		config:  config,
		logger:  internalLogger,
		tracker: NewTaskTrackerWithObservability(collector, "appkit_runner"),
		queue:   make(chan poolItem, config.QueueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}

	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		SafeGo(internalLogger, p.worker)
	}

	internalLogger.Debug("Runner started",
		"runner", config.Name,
		"workers", config.Workers,
		"queue_size", config.QueueSize,
		"submit_policy", string(config.SubmitPolicy))
	return p, nil
}

// Submit enqueues a task and returns its handle.
//
// With SubmitBlock the call waits for queue space until ctx is done or
// the runner shuts down; with SubmitReject a full queue fails immediately
// with ErrCodeRunnerQueueFull.
func (p *PoolRunner) Submit(ctx context.Context, task Task) (*TaskHandle, error) {
	if task == nil {
		return nil, NewInvalidTaskError()
	}

	handle := newTaskHandle(task.Name())
	item := poolItem{task: task, handle: handle}

	for {
		accepted, err := p.tryEnqueue(item)
		if err != nil {
			return nil, err
		}
		if accepted {
			p.submitted.Add(1)
			return handle, nil
		}

		if p.config.SubmitPolicy == SubmitReject {
			p.rejected.Add(1)
			return nil, NewRunnerQueueFullError(p.config.Name, p.config.QueueSize)
		}

		// Block policy: wait for a slot without holding the intake lock.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.baseCtx.Done():
			return nil, NewRunnerShutdownError(p.config.Name)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// tryEnqueue attempts a non-blocking queue send under the intake lock.
func (p *PoolRunner) tryEnqueue(item poolItem) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.shutdown.Load() {
		return false, NewRunnerShutdownError(p.config.Name)
	}
	select {
	case p.queue <- item:
		return true, nil
	default:
		return false, nil
	}
}

// Execute submits the task and waits for it to finish.
func (p *PoolRunner) Execute(ctx context.Context, task Task) error {
	handle, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	return handle.Wait(ctx)
}

// Stats implements Runner.
func (p *PoolRunner) Stats() RunnerStats {
	return RunnerStats{
		Name:       p.config.Name,
		Workers:    p.config.Workers,
		QueueSize:  p.config.QueueSize,
		QueueDepth: len(p.queue),
		Active:     p.tracker.TotalActive(),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Panics:     p.panics.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// Tracker exposes the in-flight task tracker for drain coordination.
func (p *PoolRunner) Tracker() *TaskTracker { return p.tracker }

// Shutdown stops intake, waits for queued and in-flight tasks bounded by
// ctx and the configured DrainTimeout, then cancels whatever remains.
// Tasks still queued after the deadline fail with ErrCodeRunnerShutdown.
// Idempotent: only the first call performs the shutdown.
func (p *PoolRunner) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown.Load() {
		p.mu.Unlock()
		return nil
	}
	p.shutdown.Store(true)
	p.mu.Unlock()

	p.logger.Info("Shutting down runner",
		"runner", p.config.Name,
		"queued", len(p.queue),
		"active", p.tracker.TotalActive())

	drainCtx := ctx
	if p.config.DrainTimeout > 0 {
		var cancelDrain context.CancelFunc
		drainCtx, cancelDrain = context.WithTimeout(ctx, p.config.DrainTimeout)
		defer cancelDrain()
	}

	drained := p.waitForIdle(drainCtx)

	// Stop workers; running tasks observe a cancelled context.
	p.cancel()
	if drained {
		// Workers are idle, so they exit as soon as they observe the
		// cancel. Stuck tasks past the deadline are not waited for.
		p.wg.Wait()
	}
	p.failStranded()

	if !drained {
		pending := p.tracker.TotalActive()
		p.logger.Warn("Runner drain timed out",
			"runner", p.config.Name, "pending", pending)
		return NewDrainTimeoutError(p.config.Name, pending)
	}

	p.logger.Info("Runner shutdown complete", "runner", p.config.Name)
	return nil
}

// worker consumes queue items until the base context is cancelled.
func (p *PoolRunner) worker() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.queue:
			p.runItem(item)
		case <-p.baseCtx.Done():
			return
		}
	}
}

// runItem executes a single task and settles its handle.
func (p *PoolRunner) runItem(item poolItem) {
	name := item.task.Name()
	p.tracker.Begin(name)
	item.handle.markStarted()

	err, panicked := runTaskSafely(p.baseCtx, p.logger, item.task)

	if panicked {
		p.panics.Add(1)
	}
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("Task failed", "runner", p.config.Name, "task", name, "error", err)
	} else {
		p.completed.Add(1)
	}

	item.handle.finish(err)
	p.tracker.End(name)
}

// waitForIdle polls until the queue is empty and nothing is in flight,
// or ctx expires.
func (p *PoolRunner) waitForIdle(ctx context.Context) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(p.queue) == 0 && p.tracker.TotalActive() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// failStranded settles handles of tasks still queued after the workers
// stopped, so every submitted task reaches a terminal state.
func (p *PoolRunner) failStranded() {
	for {
		select {
		case item := <-p.queue:
			p.failed.Add(1)
			item.handle.finish(NewRunnerShutdownError(p.config.Name))
		default:
			return
		}
	}
}
