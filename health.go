// health.go: health states reported by application components
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import "time"

// HealthState represents the operational state of an application component.
//
//   - StateHealthy: fully operational
//   - StateDegraded: operational with reduced behavior (open breaker,
//     stale data being served, queue near capacity)
//   - StateOffline: not operational, do not rely on it
//
// These states feed the application facade's aggregate health report and
// are meant to be cheap snapshots, not live probes.
type HealthState int

const (
	StateUnknown HealthState = iota
	StateHealthy
	StateDegraded
	StateOffline
)

// String returns a human-readable representation of the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ComponentHealth describes one component's state at a point in time.
type ComponentHealth struct {
	State     HealthState       `json:"state"`
	Message   string            `json:"message,omitempty"`
	LastCheck time.Time         `json:"last_check"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AppHealth aggregates component health for the whole application facade.
//
// State is the worst state observed across components: one offline
// component makes the application offline, one degraded component makes
// it degraded.
type AppHealth struct {
	State      HealthState                `json:"state"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     time.Duration              `json:"uptime"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// aggregateState folds component states into the worst observed one.
func aggregateState(components map[string]ComponentHealth) HealthState {
	state := StateHealthy
	for _, component := range components {
		switch component.State {
		case StateOffline:
			return StateOffline
		case StateDegraded:
			state = StateDegraded
		case StateUnknown:
			if state == StateHealthy {
				state = StateUnknown
			}
		}
	}
	return state
}
