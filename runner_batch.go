// runner_batch.go: batch execution helpers on top of Runner
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// RunAll submits every task to the runner and waits for all of them to
// finish. Submission failures and task failures are aggregated; tasks
// that did get submitted always run to completion even when ctx expires
// mid-wait, but RunAll stops waiting once ctx is done.
func RunAll(ctx context.Context, r Runner, tasks ...Task) error {
	var result *multierror.Error

	handles := make([]*TaskHandle, 0, len(tasks))
	for _, task := range tasks {
		handle, err := r.Submit(ctx, task)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		handles = append(handles, handle)
	}

	for _, handle := range handles {
		if err := handle.Wait(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ForEach applies fn to every item with at most limit concurrent calls.
// The first error cancels the remaining calls' context and is returned;
// limit <= 0 means unbounded.
func ForEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
