// cache_scheduler.go: Cron-backed refresh scheduling for eager caches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RefreshScheduler drives periodic refreshes of eager caches.
//
// Entries accept standard 5-field cron expressions as well as the
// "@every 10m" descriptor form, which is how interval-based refreshes are
// expressed internally. Jobs run on the cron goroutine pool with panic
// recovery, and a job still running when its next tick arrives is skipped
// rather than overlapped, so a slow loader can never pile up refreshes.
type RefreshScheduler struct {
	logger Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
	stopped bool
}

// NewRefreshScheduler creates a scheduler. The logger may be nil.
func NewRefreshScheduler(logger Logger) *RefreshScheduler {
	if logger == nil {
		logger = NewNoOpLogger()
	}

	adapter := &cronLogger{logger: logger}
	return &RefreshScheduler{
		logger: logger,
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(adapter),
				cron.Recover(adapter),
			),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a named job. The spec is either a cron expression
// ("*/5 * * * *") or a descriptor ("@every 30s", "@hourly"). Duplicate
// names are rejected so a cache cannot be scheduled twice.
func (s *RefreshScheduler) Add(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return NewConfigInvalidError("scheduler", "scheduler is stopped")
	}
	if _, exists := s.entries[name]; exists {
		return NewConfigInvalidError("scheduler", fmt.Sprintf("entry %q already scheduled", name))
	}

	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return NewConfigInvalidError("refresh_cron", fmt.Sprintf("invalid schedule %q: %v", spec, err))
	}

	s.entries[name] = id
	s.logger.Debug("Scheduled refresh job", "entry", name, "spec", spec)
	return nil
}

// AddInterval registers a named job running every interval.
func (s *RefreshScheduler) AddInterval(name string, interval time.Duration, job func()) error {
	if interval <= 0 {
		return NewConfigInvalidError("refresh_interval", "must be positive")
	}
	return s.Add(name, "@every "+interval.String(), job)
}

// Remove drops a named job. Removing an unknown name is a no-op.
func (s *RefreshScheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Entries returns the names of the scheduled jobs.
func (s *RefreshScheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start begins running scheduled jobs. Idempotent.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Debug("Refresh scheduler started", "entries", len(s.entries))
}

// Stop halts scheduling and waits for running jobs to finish, bounded by
// the context deadline. Returns the context error when jobs outlive it.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Debug("Refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Refresh scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

// cronLogger adapts Logger to the cron.Logger interface.
type cronLogger struct {
	logger Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	c.logger.Error(msg, args...)
}
