// event_bus.go: In-process publish/subscribe bus for invalidation and lifecycle events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// Event is a single notification delivered through the EventBus.
//
// Events drive cache invalidation ("users.changed" with an optional Key to
// drop a single entry) and carry session lifecycle notifications
// ("session.created", "session.expired", "session.destroyed"). The Data map
// holds small string details such as the change type reported by a file
// watcher.
type Event struct {
	Topic  string            `json:"topic"`
	Key    string            `json:"key,omitempty"`
	Source string            `json:"source,omitempty"`
	Time   time.Time         `json:"time"`
	Data   map[string]string `json:"data,omitempty"`
}

// EventHandler consumes events for a subscribed topic. Handlers must be safe
// for concurrent use; asynchronous delivery runs each handler on its own
// goroutine behind panic recovery.
type EventHandler func(Event)

// Session lifecycle topics published by the SessionManager.
const (
	TopicSessionCreated   = "session.created"
	TopicSessionExpired   = "session.expired"
	TopicSessionDestroyed = "session.destroyed"
)

// EventBus is a minimal in-process topic bus.
//
// Delivery is at-most-once per subscriber with no ordering guarantee between
// subscribers. Publish dispatches asynchronously; PublishSync runs handlers
// inline and is the right choice in tests and shutdown paths that need
// deterministic completion.
type EventBus struct {
	logger  Logger
	metrics MetricsCollector

	mu     sync.RWMutex
	subs   map[string]map[uint64]EventHandler
	nextID atomic.Uint64
	closed atomic.Bool
}

// NewEventBus creates an event bus. Both arguments are nil-tolerant: a nil
// logger discards dispatch diagnostics and a nil collector disables metrics.
func NewEventBus(logger Logger, metrics MetricsCollector) *EventBus {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}

	return &EventBus{
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]map[uint64]EventHandler),
	}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *EventBus) Subscribe(topic string, handler EventHandler) func() {
	if handler == nil || b.closed.Load() {
		return func() {}
	}

	id := b.nextID.Add(1)

	b.mu.Lock()
	handlers, ok := b.subs[topic]
	if !ok {
		handlers = make(map[uint64]EventHandler)
		b.subs[topic] = handlers
	}
	handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if handlers, ok := b.subs[topic]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subs, topic)
			}
		}
		b.mu.Unlock()
	}
}

// Publish delivers the event to all subscribers of its topic, each on its own
// goroutine with panic recovery. Publishing to a closed bus is a logged no-op.
func (b *EventBus) Publish(evt Event) {
	handlers, stamped := b.snapshot(evt)
	for _, handler := range handlers {
		h := handler
		SafeGo(b.logger, func() { h(stamped) })
	}
}

// PublishSync delivers the event inline, returning after every handler ran.
// A panicking handler is recovered and logged without affecting the others.
func (b *EventBus) PublishSync(evt Event) {
	handlers, stamped := b.snapshot(evt)
	for _, handler := range handlers {
		func() {
			defer withStackRecover(b.logger)()
			handler(stamped)
		}()
	}
}

// SubscriberCount reports the number of handlers subscribed to a topic.
func (b *EventBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Closed reports whether Close has been called.
func (b *EventBus) Closed() bool {
	return b.closed.Load()
}

// Close drops all subscriptions. Later publishes are no-ops.
func (b *EventBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	b.subs = make(map[string]map[uint64]EventHandler)
	b.mu.Unlock()

	b.logger.Debug("Event bus closed")
}

// snapshot stamps the event, records metrics and returns the handlers to run
// together with the stamped copy handlers should receive.
func (b *EventBus) snapshot(evt Event) ([]EventHandler, Event) {
	if b.closed.Load() {
		b.logger.Debug("Dropping event on closed bus", "topic", evt.Topic)
		return nil, evt
	}

	if evt.Time.IsZero() {
		evt.Time = timecache.CachedTime()
	}

	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs[evt.Topic]))
	for _, handler := range b.subs[evt.Topic] {
		handlers = append(handlers, handler)
	}
	b.mu.RUnlock()

	b.metrics.IncrementCounter("appkit_events_published_total",
		map[string]string{"topic": evt.Topic}, 1)

	return handlers, evt
}
