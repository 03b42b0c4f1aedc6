// runner_pool_test.go: test coverage for the worker pool runner
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
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, config RunnerConfig) *PoolRunner {
	t.Helper()
	pool, err := NewPoolRunner(config, NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

// blockingTask returns a task that signals start and then waits for release.
// Tasks built this way ignore their context on purpose, to exercise drain
// deadlines.
func blockingTask(name string, started *sync.Once, startedCh chan struct{}, release chan struct{}) Task {
	return NamedTask(name, func(ctx context.Context) error {
		if started != nil {
			started.Do(func() { close(startedCh) })
		}
		<-release
		return nil
	})
}

func TestRunnerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config := DefaultRunnerConfig()
		assert.Equal(t, "pool", config.Name)
		assert.Equal(t, runtime.NumCPU(), config.Workers)
		assert.Equal(t, 64, config.QueueSize)
		assert.Equal(t, SubmitBlock, config.SubmitPolicy)
		assert.Equal(t, 30*time.Second, config.DrainTimeout)
	})

	t.Run("zero_config_is_normalized", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{})
		stats := pool.Stats()
		assert.Equal(t, "pool", stats.Name)
		assert.Equal(t, runtime.NumCPU(), stats.Workers)
		assert.Equal(t, 64, stats.QueueSize)
	})

	t.Run("invalid_values_rejected", func(t *testing.T) {
		_, err := NewPoolRunner(RunnerConfig{Workers: -1}, nil)
		require.Error(t, err)

		_, err = NewPoolRunner(RunnerConfig{QueueSize: -1}, nil)
		require.Error(t, err)

		_, err = NewPoolRunner(RunnerConfig{SubmitPolicy: "maybe"}, nil)
		require.Error(t, err)
	})
}

func TestPoolRunner_Execute(t *testing.T) {
	t.Run("runs_and_returns_nil", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 2})
		var ran atomic.Bool

		err := pool.Execute(context.Background(), TaskFunc(func(ctx context.Context) error {
			ran.Store(true)
			return nil
		}))
		require.NoError(t, err)
		assert.True(t, ran.Load())

		stats := pool.Stats()
		assert.Equal(t, int64(1), stats.Submitted)
		assert.Equal(t, int64(1), stats.Completed)
	})

	t.Run("returns_task_error", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 1})

		err := pool.Execute(context.Background(), TaskFunc(func(ctx context.Context) error {
			return assert.AnError
		}))
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, int64(1), pool.Stats().Failed)
	})

	t.Run("panic_fails_only_its_own_task", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 1})

		err := pool.Execute(context.Background(), NamedTask("explosive", func(ctx context.Context) error {
			panic("worker bait")
		}))
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeTaskPanic), coded.ErrorCode())

		// The single worker survived and keeps executing.
		require.NoError(t, pool.Execute(context.Background(), TaskFunc(func(ctx context.Context) error {
			return nil
		})))
		assert.Equal(t, int64(1), pool.Stats().Panics)
	})
}

func TestPoolRunner_Submit(t *testing.T) {
	t.Run("nil_task_rejected", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 1})

		_, err := pool.Submit(context.Background(), nil)
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeInvalidTask), coded.ErrorCode())
	})

	t.Run("queued_handle_starts_later", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 1, QueueSize: 2})

		var once sync.Once
		started := make(chan struct{})
		release := make(chan struct{})
		_, err := pool.Submit(context.Background(), blockingTask("blocker", &once, started, release))
		require.NoError(t, err)
		<-started

		queued, err := pool.Submit(context.Background(), NamedTask("queued", func(ctx context.Context) error {
			return nil
		}))
		require.NoError(t, err)

		// Still waiting for the only worker.
		assert.True(t, queued.StartedAt().IsZero())
		assert.Equal(t, 1, pool.Stats().QueueDepth)

		close(release)
		require.NoError(t, queued.Wait(context.Background()))
		assert.False(t, queued.StartedAt().IsZero())
		assert.False(t, queued.FinishedAt().IsZero())
	})

	t.Run("workers_run_concurrently", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 2, QueueSize: 2})

		release := make(chan struct{})
		first, err := pool.Submit(context.Background(), blockingTask("parallel", nil, nil, release))
		require.NoError(t, err)
		second, err := pool.Submit(context.Background(), blockingTask("parallel", nil, nil, release))
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return pool.Tracker().ActiveCount("parallel") == 2
		}, 2*time.Second, 10*time.Millisecond)

		close(release)
		require.NoError(t, first.Wait(context.Background()))
		require.NoError(t, second.Wait(context.Background()))
	})
}

func TestPoolRunner_SubmitPolicies(t *testing.T) {
	t.Run("reject_policy_fails_fast_when_full", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{
			Workers:      1,
			QueueSize:    1,
			SubmitPolicy: SubmitReject,
		})

		var once sync.Once
		started := make(chan struct{})
		release := make(chan struct{})
		defer close(release)

		_, err := pool.Submit(context.Background(), blockingTask("blocker", &once, started, release))
		require.NoError(t, err)
		<-started

		// Fills the single queue slot.
		_, err = pool.Submit(context.Background(), NamedTask("filler", func(ctx context.Context) error {
			return nil
		}))
		require.NoError(t, err)

		_, err = pool.Submit(context.Background(), NamedTask("overflow", func(ctx context.Context) error {
			return nil
		}))
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeRunnerQueueFull), coded.ErrorCode())
		assert.True(t, coded.IsRetryable())
		assert.Equal(t, int64(1), pool.Stats().Rejected)
	})

	t.Run("block_policy_honors_submission_context", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{
			Workers:      1,
			QueueSize:    1,
			SubmitPolicy: SubmitBlock,
		})

		var once sync.Once
		started := make(chan struct{})
		release := make(chan struct{})

		_, err := pool.Submit(context.Background(), blockingTask("blocker", &once, started, release))
		require.NoError(t, err)
		<-started

		_, err = pool.Submit(context.Background(), NamedTask("filler", func(ctx context.Context) error {
			return nil
		}))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = pool.Submit(ctx, NamedTask("overflow", func(ctx context.Context) error {
			return nil
		}))
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// Once the worker frees up, blocking submits go through again.
		close(release)
		require.NoError(t, pool.Execute(context.Background(), TaskFunc(func(ctx context.Context) error {
			return nil
		})))
	})
}

func TestPoolRunner_Shutdown(t *testing.T) {
	t.Run("drains_queued_tasks", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 2, QueueSize: 16})
		var ran atomic.Int64

		handles := make([]*TaskHandle, 0, 8)
		for i := 0; i < 8; i++ {
			handle, err := pool.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
				ran.Add(1)
				return nil
			}))
			require.NoError(t, err)
			handles = append(handles, handle)
		}

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.Equal(t, int64(8), ran.Load())
		for _, handle := range handles {
			assert.NoError(t, handle.Err())
		}
	})

	t.Run("is_idempotent_and_stops_intake", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{Workers: 1})

		require.NoError(t, pool.Shutdown(context.Background()))
		require.NoError(t, pool.Shutdown(context.Background()))

		_, err := pool.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
			return nil
		}))
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeRunnerShutdown), coded.ErrorCode())
	})

	t.Run("drain_deadline_fails_stranded_tasks", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{
			Workers:      1,
			QueueSize:    4,
			DrainTimeout: 50 * time.Millisecond,
		})

		var once sync.Once
		started := make(chan struct{})
		release := make(chan struct{})
		defer close(release)

		_, err := pool.Submit(context.Background(), blockingTask("stuck", &once, started, release))
		require.NoError(t, err)
		<-started

		stranded, err := pool.Submit(context.Background(), NamedTask("stranded", func(ctx context.Context) error {
			return nil
		}))
		require.NoError(t, err)

		err = pool.Shutdown(context.Background())
		require.Error(t, err)
		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeDrainTimeout), coded.ErrorCode())

		// The queued task never ran but its handle still settled.
		require.ErrorAs(t, stranded.Err(), &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeRunnerShutdown), coded.ErrorCode())
	})

	t.Run("cancels_running_tasks_after_deadline", func(t *testing.T) {
		pool := newTestPool(t, RunnerConfig{
			Workers:      1,
			DrainTimeout: 50 * time.Millisecond,
		})

		handle, err := pool.Submit(context.Background(), NamedTask("ctx-aware", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		require.NoError(t, err)

		err = pool.Shutdown(context.Background())
		require.Error(t, err)

		// The cancelled base context let the task finish right after.
		select {
		case <-handle.Done():
			assert.ErrorIs(t, handle.Err(), context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("running task was not cancelled by shutdown")
		}
	})
}
