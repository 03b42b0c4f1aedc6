// session.go: user identity and in-memory session state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the identity a session is created for.
//
// The struct is plain data: the library never persists or authenticates
// users, it only carries them through sessions, tokens and locale-aware
// formatting. Locale, when set, should be a BCP 47 tag ("en-US", "it").
type User struct {
	ID         string            `json:"id"`
	Username   string            `json:"username,omitempty"`
	Email      string            `json:"email,omitempty"`
	Roles      []string          `json:"roles,omitempty"`
	Locale     string            `json:"locale,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisplayName returns the best human-readable name available: username,
// then email, then the raw ID.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

// Session is one authenticated presence of a user.
//
// Attribute access is safe for concurrent use; everything else is
// immutable after creation. Sessions are created and resolved through a
// SessionManager, never constructed directly.
type Session struct {
	id        string
	user      *User
	createdAt time.Time

	// mu protects attributes and lastAccess
	mu         sync.RWMutex
	attributes map[string]any
	lastAccess time.Time
}

func newSession(user *User) *Session {
	now := time.Now()
	return &Session{
		id:         uuid.NewString(),
		user:       user,
		createdAt:  now,
		lastAccess: now,
		attributes: make(map[string]any),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// User returns the user this session belongs to.
func (s *Session) User() *User { return s.user }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastAccess returns when the session was last resolved through the
// manager.
func (s *Session) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration { return time.Since(s.createdAt) }

// Idle returns how long ago the session was last accessed.
func (s *Session) Idle() time.Duration { return time.Since(s.LastAccess()) }

// Set stores a session attribute.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.attributes[key] = value
	s.mu.Unlock()
}

// Get returns a session attribute.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.attributes[key]
	return value, ok
}

// GetString returns a string attribute; non-string values report false.
func (s *Session) GetString(key string) (string, bool) {
	value, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Delete removes a session attribute.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.attributes, key)
	s.mu.Unlock()
}

// Keys returns the attribute keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.attributes))
	for key := range s.attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// touch refreshes the last-access timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}
