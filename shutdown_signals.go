// shutdown_signals.go: Signal-driven shutdown for the application facade
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalShutdown ties the facade lifecycle to process termination
// signals. It waits for SIGINT or SIGTERM (or context cancellation) and
// then runs the facade shutdown bounded by the configured timeout.
//
// Typical use as the last lines of main:
//
//	apps, err := Production("checkout").Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := apps.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := NewSignalShutdown(apps, 30*time.Second).Wait(ctx); err != nil {
//	    log.Printf("shutdown: %v", err)
//	}
type SignalShutdown struct {
	apps    *Apps
	logger  Logger
	timeout time.Duration
	sigChan chan os.Signal
}

// NewSignalShutdown creates a handler subscribed to SIGINT and SIGTERM.
// A non-positive timeout defaults to 30 seconds.
func NewSignalShutdown(apps *Apps, timeout time.Duration) *SignalShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	return &SignalShutdown{
		apps:    apps,
		logger:  apps.Logger(),
		timeout: timeout,
		sigChan: sigChan,
	}
}

// Wait blocks until a termination signal arrives or ctx is cancelled,
// then shuts the facade down with the configured timeout. The signal
// subscription is released before shutting down, so a second signal
// during the drain kills the process the default way.
func (ss *SignalShutdown) Wait(ctx context.Context) error {
	select {
	case sig := <-ss.sigChan:
		ss.logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		ss.logger.Info("Context cancelled, starting shutdown")
	}
	signal.Stop(ss.sigChan)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ss.timeout)
	defer cancel()

	if err := ss.apps.Shutdown(shutdownCtx); err != nil {
		ss.logger.Error("Graceful shutdown failed", "error", err)
		return err
	}

	ss.logger.Info("Graceful shutdown completed")
	return nil
}
