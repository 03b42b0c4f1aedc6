// shutdown_coordinator_test.go: test coverage for ordered multi-phase shutdown
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// phaseRecorder collects the order in which shutdown phases ran.
type phaseRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *phaseRecorder) phase(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}
}

func (r *phaseRecorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestShutdownCoordinator_PhaseOrder(t *testing.T) {
	t.Run("phases_run_in_registration_order", func(t *testing.T) {
		logger := NewTestLogger()
		sc := NewShutdownCoordinator(logger)

		rec := &phaseRecorder{}
		sc.AddPhase("sources", rec.phase("sources"))
		sc.AddPhase("workers", rec.phase("workers"))
		sc.AddPhase("stores", rec.phase("stores"))

		require.NoError(t, sc.GracefulShutdown(context.Background()))
		assert.Equal(t, []string{"sources", "workers", "stores"}, rec.ran())
		assert.True(t, logger.HasMessage("INFO", "Coordinated graceful shutdown completed successfully"))
	})

	t.Run("nil_stop_functions_are_ignored", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		rec := &phaseRecorder{}
		sc.AddPhase("missing", nil)
		sc.AddPhase("real", rec.phase("real"))

		status := sc.Status()
		assert.Equal(t, []string{"real"}, status.Pending)

		require.NoError(t, sc.GracefulShutdown(context.Background()))
		assert.Equal(t, []string{"real"}, rec.ran())
	})

	t.Run("empty_coordinator_completes", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		require.NoError(t, sc.GracefulShutdown(context.Background()))
		assert.Equal(t, ShutdownComplete, sc.Status().State)
	})
}

func TestShutdownCoordinator_Failures(t *testing.T) {
	t.Run("failing_phase_does_not_stop_later_phases", func(t *testing.T) {
		logger := NewTestLogger()
		sc := NewShutdownCoordinator(logger)

		rec := &phaseRecorder{}
		sc.AddPhase("first", rec.phase("first"))
		sc.AddPhase("second", func(ctx context.Context) error {
			return fmt.Errorf("drain stalled")
		})
		sc.AddPhase("third", rec.phase("third"))

		err := sc.GracefulShutdown(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "drain stalled")

		assert.Equal(t, []string{"first", "third"}, rec.ran())
		assert.Equal(t, []string{"first", "second", "third"}, sc.Status().Completed)
		assert.True(t, logger.HasMessage("WARN", "Shutdown phase failed"))
		assert.True(t, logger.HasMessage("ERROR", "Coordinated shutdown completed with errors"))
	})

	t.Run("aggregate_reports_every_failure", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)
		sc.AddPhase("watcher", func(ctx context.Context) error {
			return fmt.Errorf("watcher stuck")
		})
		sc.AddPhase("runner", func(ctx context.Context) error {
			return fmt.Errorf("runner stuck")
		})

		err := sc.GracefulShutdown(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "watcher stuck")
		assert.Contains(t, err.Error(), "runner stuck")
	})

	t.Run("panic_becomes_a_phase_error", func(t *testing.T) {
		logger := NewTestLogger()
		sc := NewShutdownCoordinator(logger)

		rec := &phaseRecorder{}
		sc.AddPhase("flaky", func(ctx context.Context) error {
			panic("close of closed channel")
		})
		sc.AddPhase("after", rec.phase("after"))

		err := sc.GracefulShutdown(context.Background())
		require.Error(t, err)

		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeTaskPanic), coded.ErrorCode())
		assert.Equal(t, "shutdown:flaky", coded.Context["task_name"])

		assert.Equal(t, []string{"after"}, rec.ran())
		assert.True(t, logger.HasMessage("ERROR", "Panic recovered in shutdown phase"))
	})
}

func TestShutdownCoordinator_DeadlineBudget(t *testing.T) {
	t.Run("phases_share_the_remaining_deadline", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		var mu sync.Mutex
		budgets := make(map[string]time.Duration)
		capture := func(name string) func(ctx context.Context) error {
			return func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				if !ok {
					return fmt.Errorf("phase %s has no deadline", name)
				}
				mu.Lock()
				budgets[name] = time.Until(deadline)
				mu.Unlock()
				return nil
			}
		}
		sc.AddPhase("a", capture("a"))
		sc.AddPhase("b", capture("b"))
		sc.AddPhase("c", capture("c"))
		sc.AddPhase("d", capture("d"))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, sc.GracefulShutdown(ctx))

		mu.Lock()
		defer mu.Unlock()
		// Four phases split one second: the first one must not see
		// anywhere near the whole budget.
		assert.Greater(t, budgets["a"], 50*time.Millisecond)
		assert.Less(t, budgets["a"], 500*time.Millisecond)
		assert.Greater(t, budgets["d"], 50*time.Millisecond)
	})

	t.Run("no_deadline_passes_through", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		var sawDeadline bool
		sc.AddPhase("only", func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return ctx.Err()
		})

		require.NoError(t, sc.GracefulShutdown(context.Background()))
		assert.False(t, sawDeadline)
	})
}

func TestShutdownCoordinator_Reentrancy(t *testing.T) {
	t.Run("second_shutdown_while_running_is_rejected", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		started := make(chan struct{})
		release := make(chan struct{})
		sc.AddPhase("slow", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})

		done := make(chan error, 1)
		go func() { done <- sc.GracefulShutdown(context.Background()) }()

		<-started
		err := sc.GracefulShutdown(context.Background())
		require.Error(t, err)

		var coded *errors.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, errors.ErrorCode(ErrCodeAppsShutdown), coded.ErrorCode())

		close(release)
		require.NoError(t, <-done)
	})
}

func TestShutdownCoordinator_Status(t *testing.T) {
	t.Run("idle_before_shutdown", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)
		sc.AddPhase("a", func(ctx context.Context) error { return nil })
		sc.AddPhase("b", func(ctx context.Context) error { return nil })

		status := sc.Status()
		assert.Equal(t, ShutdownIdle, status.State)
		assert.Empty(t, status.Current)
		assert.Empty(t, status.Completed)
		assert.Equal(t, []string{"a", "b"}, status.Pending)
	})

	t.Run("running_status_reports_current_phase", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)

		started := make(chan struct{})
		release := make(chan struct{})
		sc.AddPhase("slow", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		sc.AddPhase("later", func(ctx context.Context) error { return nil })

		done := make(chan error, 1)
		go func() { done <- sc.GracefulShutdown(context.Background()) }()

		<-started
		status := sc.Status()
		assert.Equal(t, ShutdownRunning, status.State)
		assert.Equal(t, "slow", status.Current)
		assert.Equal(t, []string{"later"}, status.Pending)
		assert.Empty(t, status.Completed)

		close(release)
		require.NoError(t, <-done)
	})

	t.Run("complete_after_shutdown", func(t *testing.T) {
		sc := NewShutdownCoordinator(nil)
		sc.AddPhase("a", func(ctx context.Context) error { return nil })
		sc.AddPhase("b", func(ctx context.Context) error { return nil })

		require.NoError(t, sc.GracefulShutdown(context.Background()))

		status := sc.Status()
		assert.Equal(t, ShutdownComplete, status.State)
		assert.Empty(t, status.Current)
		assert.Equal(t, []string{"a", "b"}, status.Completed)
		assert.Empty(t, status.Pending)
	})
}
