// runner.go: task abstractions and the synchronous runner
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

	"github.com/google/uuid"
)

// Task is a unit of work executed by a Runner.
//
// Run must honor ctx cancellation for long operations. A task may be
// submitted multiple times; implementations should be safe to re-run.
type Task interface {
	// Name identifies the task in logs, metrics and handles.
	Name() string

	// Run performs the work. The returned error lands on the task's handle.
	Run(ctx context.Context) error
}

// TaskFunc adapts a bare function to the Task interface with a generic name.
type TaskFunc func(ctx context.Context) error

// Name implements Task.
func (f TaskFunc) Name() string { return "task" }

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

type namedTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t *namedTask) Name() string                  { return t.name }
func (t *namedTask) Run(ctx context.Context) error { return t.fn(ctx) }

// NamedTask pairs a function with a stable name for logs and metrics.
func NamedTask(name string, fn func(ctx context.Context) error) Task {
	return &namedTask{name: name, fn: fn}
}

// TaskHandle tracks one submitted task through to completion.
//
// A handle reaches its terminal state exactly once: Done() is closed
// after the task returned, panicked or was dropped during shutdown, and
// Err() then reports the outcome.
type TaskHandle struct {
	id          string
	name        string
	submittedAt time.Time

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
	err        error

	done     chan struct{}
	complete sync.Once
}

func newTaskHandle(name string) *TaskHandle {
	return &TaskHandle{
		id:          uuid.NewString(),
		name:        name,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ID returns the unique identifier assigned at submission.
func (h *TaskHandle) ID() string { return h.id }

// TaskName returns the name of the underlying task.
func (h *TaskHandle) TaskName() string { return h.name }

// SubmittedAt returns when the task was accepted by the runner.
func (h *TaskHandle) SubmittedAt() time.Time { return h.submittedAt }

// StartedAt returns when a worker began executing the task; zero while
// the task is still queued.
func (h *TaskHandle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// FinishedAt returns when the task reached its terminal state; zero
// while it is queued or running.
func (h *TaskHandle) FinishedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finishedAt
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Err returns the task outcome. It is nil while the task is pending and
// after a successful run; wait on Done before trusting it.
func (h *TaskHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task completes or ctx is done, returning the
// task error or the context error.
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markStarted records the execution start time.
func (h *TaskHandle) markStarted() {
	h.mu.Lock()
	h.startedAt = time.Now()
	h.mu.Unlock()
}

// finish moves the handle to its terminal state. Only the first call has
// any effect.
func (h *TaskHandle) finish(err error) {
	h.complete.Do(func() {
		h.mu.Lock()
		h.err = err
		h.finishedAt = time.Now()
		h.mu.Unlock()
		close(h.done)
	})
}

// RunnerStats is a point-in-time snapshot of runner activity.
type RunnerStats struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	QueueSize  int    `json:"queue_size"`
	QueueDepth int    `json:"queue_depth"`
	Active     int64  `json:"active"`
	Submitted  int64  `json:"submitted"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	Panics     int64  `json:"panics"`
	Rejected   int64  `json:"rejected"`
}

// Runner executes tasks. Implementations differ in where and when the
// work runs; the handle contract is identical for all of them.
type Runner interface {
	// Submit hands a task to the runner and returns its handle. The
	// context bounds the submission itself (relevant for blocking
	// submit policies), not the task's execution.
	Submit(ctx context.Context, task Task) (*TaskHandle, error)

	// Execute submits the task and waits for its completion.
	Execute(ctx context.Context, task Task) error

	// Stats returns a snapshot of the runner's counters.
	Stats() RunnerStats

	// Shutdown stops intake and waits for in-flight tasks, bounded by ctx.
	Shutdown(ctx context.Context) error
}

// SyncRunner executes every task inline in the submitting goroutine.
//
// It exists for deterministic tests and for degraded operation where a
// worker pool is unwanted; Submit returns an already-completed handle.
type SyncRunner struct {
	logger Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	shutdown atomic.Bool
}

// NewSyncRunner creates a runner that executes tasks inline.
func NewSyncRunner(logger any) *SyncRunner {
	return &SyncRunner{logger: NewLogger(logger)}
}

// Submit runs the task immediately and returns its completed handle.
func (r *SyncRunner) Submit(ctx context.Context, task Task) (*TaskHandle, error) {
	if task == nil {
		return nil, NewInvalidTaskError()
	}
	if r.shutdown.Load() {
		return nil, NewRunnerShutdownError("sync")
	}

	handle := newTaskHandle(task.Name())
	handle.markStarted()
	r.submitted.Add(1)

	err, panicked := runTaskSafely(ctx, r.logger, task)
	if panicked {
		r.panics.Add(1)
	}
	if err != nil {
		r.failed.Add(1)
	} else {
		r.completed.Add(1)
	}
	handle.finish(err)
	return handle, nil
}

// Execute runs the task inline and returns its error.
func (r *SyncRunner) Execute(ctx context.Context, task Task) error {
	handle, err := r.Submit(ctx, task)
	if err != nil {
		return err
	}
	return handle.Err()
}

// Stats implements Runner.
func (r *SyncRunner) Stats() RunnerStats {
	return RunnerStats{
		Name:      "sync",
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Panics:    r.panics.Load(),
	}
}

// Shutdown stops intake. There is nothing to drain: tasks ran inline.
func (r *SyncRunner) Shutdown(ctx context.Context) error {
	r.shutdown.Store(true)
	return nil
}

// runTaskSafely executes a task converting panics into coded errors, so
// a panicking task can never take down the goroutine running it. The
// captured stack trace is logged, mirroring the global panic recovery
// helpers.
func runTaskSafely(ctx context.Context, logger Logger, task Task) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64*1024)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in task",
				"task", task.Name(),
				"panic", r,
				"stack", string(buf[:n]),
			)
			err = NewTaskPanicError(task.Name(), r)
			panicked = true
		}
	}()
	return task.Run(ctx), false
}
