// shutdown_signals_test.go: test coverage for signal-driven shutdown
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStartedApps builds and starts a minimal facade for shutdown tests.
func newStartedApps(t *testing.T) *Apps {
	t.Helper()

	apps, err := NewApps().WithLogger(NewNoOpLogger()).Build()
	require.NoError(t, err)
	require.NoError(t, apps.Start(context.Background()))
	return apps
}

// requireStopped asserts the facade refuses to start again, which only
// happens after a completed shutdown.
func requireStopped(t *testing.T, apps *Apps) {
	t.Helper()

	err := apps.Start(context.Background())
	require.Error(t, err)

	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, errors.ErrorCode(ErrCodeAppsShutdown), coded.ErrorCode())
}

func TestSignalShutdown_Wait(t *testing.T) {
	t.Run("context_cancellation_triggers_shutdown", func(t *testing.T) {
		apps := newStartedApps(t)
		ss := NewSignalShutdown(apps, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, ss.Wait(ctx))
		requireStopped(t, apps)
	})

	t.Run("termination_signal_triggers_shutdown", func(t *testing.T) {
		apps := newStartedApps(t)
		ss := NewSignalShutdown(apps, time.Second)

		// The subscription channel is buffered, so the signal can be
		// staged before Wait starts selecting.
		ss.sigChan <- syscall.SIGTERM

		require.NoError(t, ss.Wait(context.Background()))
		requireStopped(t, apps)
	})

	t.Run("wait_returns_the_shutdown_result", func(t *testing.T) {
		apps := newStartedApps(t)
		require.NoError(t, apps.Shutdown(context.Background()))

		ss := NewSignalShutdown(apps, time.Second)
		ss.sigChan <- syscall.SIGINT

		// Shutdown is idempotent, so the second run reports the same
		// nil result instead of failing.
		require.NoError(t, ss.Wait(context.Background()))
	})
}

func TestSignalShutdown_Timeout(t *testing.T) {
	apps := newStartedApps(t)
	t.Cleanup(func() { _ = apps.Shutdown(context.Background()) })

	t.Run("non_positive_timeout_defaults_to_thirty_seconds", func(t *testing.T) {
		for _, timeout := range []time.Duration{0, -time.Second} {
			ss := NewSignalShutdown(apps, timeout)
			signal.Stop(ss.sigChan)
			assert.Equal(t, 30*time.Second, ss.timeout)
		}
	})

	t.Run("positive_timeout_is_kept", func(t *testing.T) {
		ss := NewSignalShutdown(apps, 5*time.Second)
		signal.Stop(ss.sigChan)
		assert.Equal(t, 5*time.Second, ss.timeout)
	})
}
