// session_manager.go: TTL-bound in-memory session registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	// TTL is how long a session lives. With Sliding set, every Get
	// extends the session by TTL; otherwise the clock starts at Create
	// and never resets. Defaults to 30 minutes.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Sliding turns idle expiry on: sessions stay alive as long as they
	// keep being resolved.
	Sliding bool `json:"sliding" yaml:"sliding"`

	// Capacity bounds the number of live sessions; 0 means unbounded.
	// The least recently created session is evicted at capacity.
	Capacity int `json:"capacity" yaml:"capacity"`

	// TokenSecret signs session tokens (HMAC-SHA256). Token operations
	// fail until it is set; resolve it from the environment, not from a
	// committed file.
	TokenSecret string `json:"token_secret" yaml:"token_secret"`

	// TokenIssuer is the "iss" claim stamped into issued tokens.
	// Defaults to "go-appkit".
	TokenIssuer string `json:"token_issuer" yaml:"token_issuer"`

	// TokenTTL bounds token validity independently of the session TTL.
	// Defaults to the session TTL.
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// DefaultSessionConfig returns a session configuration with a 30 minute
// sliding TTL and no capacity bound.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:         30 * time.Minute,
		Sliding:     true,
		TokenIssuer: "go-appkit",
	}
}

// Validate checks the configuration for values that cannot be defaulted.
func (c *SessionConfig) Validate() error {
	if c.TTL < 0 {
		return NewConfigInvalidError("ttl", "session TTL cannot be negative")
	}
	if c.Capacity < 0 {
		return NewConfigInvalidError("capacity", "session capacity cannot be negative")
	}
	if c.TokenTTL < 0 {
		return NewConfigInvalidError("token_ttl", "token TTL cannot be negative")
	}
	return nil
}

// normalized fills zero fields with defaults.
func (c SessionConfig) normalized() SessionConfig {
	defaults := DefaultSessionConfig()
	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}
	if c.TokenIssuer == "" {
		c.TokenIssuer = defaults.TokenIssuer
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = c.TTL
	}
	return c
}

// SessionStats is a point-in-time snapshot of session activity.
type SessionStats struct {
	Active    int   `json:"active"`
	Capacity  int   `json:"capacity"`
	Created   int64 `json:"created"`
	Expired   int64 `json:"expired"`
	Destroyed int64 `json:"destroyed"`
}

// SessionManagerOption configures a SessionManager during construction.
type SessionManagerOption func(*SessionManager)

// WithSessionLogger sets the manager's logger. Accepts any of the
// supported logger types (see NewLogger).
func WithSessionLogger(logger any) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.logger = NewLogger(logger)
	}
}

// WithSessionEventBus publishes session lifecycle events
// (session.created, session.expired, session.destroyed) on the bus.
func WithSessionEventBus(bus *EventBus) SessionManagerOption {
	return func(sm *SessionManager) {
		sm.bus = bus
	}
}

// WithSessionMetrics mirrors session counters into the collector.
func WithSessionMetrics(metrics MetricsCollector) SessionManagerOption {
	return func(sm *SessionManager) {
		if metrics != nil {
			sm.metrics = metrics
		}
	}
}

// SessionManager keeps live sessions in a TTL-bound in-memory store.
//
// Expired sessions are invisible to Get the moment their TTL passes,
// before the background janitor collects them. Expiry and capacity
// evictions publish session.expired on the event bus; explicit Destroy
// publishes session.destroyed.
type SessionManager struct {
	config  SessionConfig
	logger  Logger
	metrics MetricsCollector
	bus     *EventBus

	store *ttlcache.Cache[string, *Session]

	created   atomic.Int64
	expired   atomic.Int64
	destroyed atomic.Int64

	started     atomic.Bool
	closed      atomic.Bool
	stopOnce    sync.Once
	ttlOverride atomic.Int64 // nanoseconds; positive replaces config.TTL for new sessions
}

// NewSessionManager creates a session manager with the given
// configuration. Call Start to begin background expiry collection.
func NewSessionManager(config SessionConfig, opts ...SessionManagerOption) (*SessionManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.normalized()

	sm := &SessionManager{
		config:  config,
		logger:  DefaultLogger(),
		metrics: &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(sm)
	}

	storeOpts := []ttlcache.Option[string, *Session]{
		ttlcache.WithTTL[string, *Session](config.TTL),
	}
	if config.Capacity > 0 {
		storeOpts = append(storeOpts, ttlcache.WithCapacity[string, *Session](uint64(config.Capacity)))
	}
	if !config.Sliding {
		storeOpts = append(storeOpts, ttlcache.WithDisableTouchOnHit[string, *Session]())
	}
	sm.store = ttlcache.New(storeOpts...)

	sm.store.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		sm.onEviction(reason, item.Value())
	})

	return sm, nil
}

// Start begins background collection of expired sessions. Idempotent.
func (sm *SessionManager) Start() {
	if !sm.started.CompareAndSwap(false, true) {
		return
	}
	SafeGo(sm.logger, sm.store.Start)
	sm.logger.Debug("Session manager started",
		"ttl", sm.config.TTL, "sliding", sm.config.Sliding, "capacity", sm.config.Capacity)
}

// Stop drops all sessions and stops the janitor. Permanent: a stopped
// manager rejects every operation.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		sm.closed.Store(true)
		sm.store.DeleteAll()
		// The stop signal is consumed by the janitor loop, which only
		// runs after Start.
		if sm.started.Load() {
			sm.store.Stop()
		}
		sm.logger.Debug("Session manager stopped")
	})
}

// Create registers a new session for the user.
func (sm *SessionManager) Create(user *User) (*Session, error) {
	if sm.closed.Load() {
		return nil, NewSessionClosedError()
	}
	if user == nil || user.ID == "" {
		return nil, NewMissingUserError()
	}

	session := newSession(user)
	sm.store.Set(session.ID(), session, sm.sessionTTL())

	sm.created.Add(1)
	sm.metrics.IncrementCounter("appkit_sessions_created_total", nil, 1)
	sm.metrics.SetGauge("appkit_sessions_active", nil, float64(sm.store.Len()))
	sm.logger.Debug("Session created",
		"session_id", session.ID(), "user_id", user.ID)

	sm.publish(TopicSessionCreated, session, nil)
	return session, nil
}

// SetTTLOverride replaces the configured TTL for sessions created from
// now on. Existing sessions keep their expiry. Zero or negative
// restores the declared TTL. Used by configuration hot reload.
func (sm *SessionManager) SetTTLOverride(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	sm.ttlOverride.Store(int64(ttl))
}

// sessionTTL returns the TTL for a new session: the live override when
// one is set, otherwise the store default.
func (sm *SessionManager) sessionTTL() time.Duration {
	if override := sm.ttlOverride.Load(); override > 0 {
		return time.Duration(override)
	}
	return ttlcache.DefaultTTL
}

// Get resolves a live session by ID. With sliding expiry the lookup
// extends the session's TTL. Expired and destroyed sessions report
// ErrCodeSessionNotFound.
func (sm *SessionManager) Get(id string) (*Session, error) {
	if sm.closed.Load() {
		return nil, NewSessionClosedError()
	}

	item := sm.store.Get(id)
	if item == nil {
		return nil, NewSessionNotFoundError(id)
	}

	session := item.Value()
	session.touch()
	return session, nil
}

// Destroy removes a session, reporting whether it existed. The
// session.destroyed event fires synchronously before Destroy returns.
func (sm *SessionManager) Destroy(id string) bool {
	if sm.closed.Load() {
		return false
	}

	item := sm.store.Get(id, ttlcache.WithDisableTouchOnHit[string, *Session]())
	if item == nil {
		return false
	}
	session := item.Value()
	sm.store.Delete(id)

	sm.destroyed.Add(1)
	sm.metrics.IncrementCounter("appkit_sessions_destroyed_total", nil, 1)
	sm.metrics.SetGauge("appkit_sessions_active", nil, float64(sm.store.Len()))
	sm.logger.Debug("Session destroyed", "session_id", id)

	sm.publishSync(TopicSessionDestroyed, session, nil)
	return true
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	if sm.closed.Load() {
		return 0
	}
	return sm.store.Len()
}

// Range calls fn for every live session until fn returns false.
func (sm *SessionManager) Range(fn func(*Session) bool) {
	if sm.closed.Load() {
		return
	}
	for _, item := range sm.store.Items() {
		if !fn(item.Value()) {
			return
		}
	}
}

// Stats returns a snapshot of session counters.
func (sm *SessionManager) Stats() SessionStats {
	return SessionStats{
		Active:    sm.Count(),
		Capacity:  sm.config.Capacity,
		Created:   sm.created.Load(),
		Expired:   sm.expired.Load(),
		Destroyed: sm.destroyed.Load(),
	}
}

// Config returns the manager's normalized configuration.
func (sm *SessionManager) Config() SessionConfig { return sm.config }

// onEviction reacts to store evictions. Explicit deletes already
// published their event in Destroy; expiry and capacity evictions
// publish session.expired here.
func (sm *SessionManager) onEviction(reason ttlcache.EvictionReason, session *Session) {
	if reason == ttlcache.EvictionReasonDeleted {
		return
	}

	sm.expired.Add(1)
	sm.metrics.IncrementCounter("appkit_sessions_expired_total", nil, 1)
	sm.logger.Debug("Session expired",
		"session_id", session.ID(),
		"user_id", session.User().ID,
		"reason", evictionReason(reason))

	sm.publish(TopicSessionExpired, session, map[string]string{
		"reason": evictionReason(reason),
	})
}

// publish emits a session lifecycle event asynchronously.
func (sm *SessionManager) publish(topic string, session *Session, data map[string]string) {
	if sm.bus == nil {
		return
	}
	sm.bus.Publish(sessionEvent(topic, session, data))
}

// publishSync emits a session lifecycle event in the calling goroutine.
func (sm *SessionManager) publishSync(topic string, session *Session, data map[string]string) {
	if sm.bus == nil {
		return
	}
	sm.bus.PublishSync(sessionEvent(topic, session, data))
}

func sessionEvent(topic string, session *Session, data map[string]string) Event {
	if data == nil {
		data = make(map[string]string, 1)
	}
	data["user_id"] = session.User().ID
	return Event{
		Topic:  topic,
		Key:    session.ID(),
		Source: "session_manager",
		Data:   data,
	}
}
