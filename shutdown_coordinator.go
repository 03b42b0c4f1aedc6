// shutdown_coordinator.go: ordered multi-phase shutdown
//
// This file implements the ShutdownCoordinator used by the Apps facade
// to stop components in dependency order: change sources first, then
// workers, then stores. Each phase gets an equal slice of the remaining
// context deadline and runs panic-safe, so one misbehaving component
// cannot block or crash the shutdown of the rest.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ShutdownState describes where a coordinator is in its lifecycle.
type ShutdownState string

const (
	ShutdownIdle     ShutdownState = "idle"
	ShutdownRunning  ShutdownState = "running"
	ShutdownComplete ShutdownState = "complete"
)

// shutdownPhase is one named step of the shutdown sequence.
type shutdownPhase struct {
	name string
	stop func(ctx context.Context) error
}

// ShutdownCoordinator runs registered shutdown phases in order.
//
// Phases run exactly in registration order; a failing phase is logged
// and collected but never prevents later phases from running. The
// aggregate error reports every failure.
type ShutdownCoordinator struct {
	logger Logger

	mu        sync.Mutex
	phases    []shutdownPhase
	state     ShutdownState
	current   string
	completed []string
}

// NewShutdownCoordinator creates an empty coordinator.
func NewShutdownCoordinator(logger Logger) *ShutdownCoordinator {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &ShutdownCoordinator{
		logger: logger,
		state:  ShutdownIdle,
	}
}

// AddPhase appends a named shutdown step. Phases registered first stop
// first. Nil stop functions are ignored.
func (sc *ShutdownCoordinator) AddPhase(name string, stop func(ctx context.Context) error) {
	if stop == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.phases = append(sc.phases, shutdownPhase{name: name, stop: stop})
}

// GracefulShutdown runs every phase in order and returns the aggregate
// of all phase errors. When the context carries a deadline, each
// remaining phase receives an equal slice of the remaining time, so an
// early phase that stalls cannot starve the ones behind it.
func (sc *ShutdownCoordinator) GracefulShutdown(ctx context.Context) error {
	sc.mu.Lock()
	if sc.state == ShutdownRunning {
		sc.mu.Unlock()
		return NewAppsShutdownError()
	}
	sc.state = ShutdownRunning
	phases := make([]shutdownPhase, len(sc.phases))
	copy(phases, sc.phases)
	sc.mu.Unlock()

	sc.logger.Info("Starting coordinated graceful shutdown", "phases", len(phases))

	var result *multierror.Error
	for i, phase := range phases {
		sc.setCurrent(phase.name)

		phaseCtx, cancel := sc.phaseContext(ctx, len(phases)-i)
		err := sc.runPhase(phaseCtx, phase)
		cancel()

		if err != nil {
			sc.logger.Warn("Shutdown phase failed", "phase", phase.name, "error", err)
			result = multierror.Append(result, err)
		} else {
			sc.logger.Debug("Shutdown phase completed", "phase", phase.name)
		}
		sc.markCompleted(phase.name)
	}

	sc.mu.Lock()
	sc.state = ShutdownComplete
	sc.current = ""
	sc.mu.Unlock()

	if err := result.ErrorOrNil(); err != nil {
		sc.logger.Error("Coordinated shutdown completed with errors", "error", err)
		return err
	}
	sc.logger.Info("Coordinated graceful shutdown completed successfully")
	return nil
}

// Status returns the coordinator's progress.
func (sc *ShutdownCoordinator) Status() ShutdownStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	status := ShutdownStatus{
		State:     sc.state,
		Current:   sc.current,
		Completed: append([]string(nil), sc.completed...),
	}
	for _, phase := range sc.phases {
		if !containsString(status.Completed, phase.name) && phase.name != sc.current {
			status.Pending = append(status.Pending, phase.name)
		}
	}
	return status
}

// ShutdownStatus reports shutdown progress for diagnostics.
type ShutdownStatus struct {
	State     ShutdownState `json:"state"`
	Current   string        `json:"current_phase,omitempty"`
	Completed []string      `json:"completed_phases,omitempty"`
	Pending   []string      `json:"pending_phases,omitempty"`
}

// phaseContext slices the remaining deadline equally across the phases
// still to run. Without a deadline the parent context passes through.
func (sc *ShutdownCoordinator) phaseContext(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 0 {
		return context.WithCancel(ctx)
	}
	budget := time.Until(deadline) / time.Duration(remaining)
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// runPhase executes one phase with panic recovery: a panicking
// component becomes a phase error instead of crashing the shutdown.
func (sc *ShutdownCoordinator) runPhase(ctx context.Context, phase shutdownPhase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64*1024)
			n := runtime.Stack(buf, false)
			sc.logger.Error("Panic recovered in shutdown phase",
				"phase", phase.name,
				"panic", r,
				"stack", string(buf[:n]))
			err = NewTaskPanicError("shutdown:"+phase.name, r)
		}
	}()
	return phase.stop(ctx)
}

func (sc *ShutdownCoordinator) setCurrent(name string) {
	sc.mu.Lock()
	sc.current = name
	sc.mu.Unlock()
}

func (sc *ShutdownCoordinator) markCompleted(name string) {
	sc.mu.Lock()
	sc.completed = append(sc.completed, name)
	sc.mu.Unlock()
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
