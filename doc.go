// Package appkit provides the application support layer for Go services:
// pluggable structured logging, localized formatting, managed in-process
// caches, sessions with signed tokens, background task execution, and
// configuration with hot reload, assembled behind one fluent facade.
//
// Key Features:
//   - Pluggable logging with automatic adapter detection (slog, zap, zerolog, logrus)
//   - Type-safe caches using Go generics with lazy and eager refresh
//   - Cache manager with scheduling, file watching and event-driven invalidation
//   - Worker-pool task runner with panic recovery and drain on shutdown
//   - Session management with HMAC-signed JWT tokens
//   - Localized messages, dates, numbers and currency amounts
//   - Configuration loading with environment expansion and live reload
//   - Comprehensive metrics and graceful shutdown with proper cleanup
//
// Basic Usage:
//
//	// Assemble the facade with production defaults
//	apps, err := appkit.Production("checkout").
//		WithConfigFile("/etc/checkout/app.yaml").
//		Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Start the managed components
//	if err := apps.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer apps.Shutdown(context.Background())
//
//	// Register a typed cache against the manager
//	prices, err := appkit.RegisterCache(apps.Caches(), appkit.CacheConfig{
//		Name: "prices",
//		TTL:  5 * time.Minute,
//	}, loadPrice)
//
//	// Run background work on the shared pool
//	apps.Runner().Submit(ctx, appkit.NamedTask("reindex", reindex))
//
// Components are usable on their own: every manager and helper has a
// constructor that works without the facade, and the facade only wires
// defaults around them.
//
// Performance:
// Caches serve reads lock-free through jellydator/ttlcache, hot paths read
// time through a cached clock, and duplicate loads collapse via
// singleflight so a cold key costs one loader call regardless of fan-in.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package appkit
