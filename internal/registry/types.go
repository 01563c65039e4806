// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the Session Registry (§4.E): a
// concurrency-safe table of active X11Session and EngineSession records,
// indexed by username and session id, plus the pending-creation state
// machine that backs async create (§4.F).
package registry

import (
	"time"

	"github.com/ILLGrenoble/webx-router/internal/process"
)

// SessionConfig bundles the per-session parameters supplied by the
// creating client — screen geometry, keyboard layout, and arbitrary
// engine parameters — as one cohesive value threaded through Display
// Supervisor and Engine Supervisor, following the original
// implementation's SessionConfig (engine/session_config.rs) rather than
// passing the fields individually.
type SessionConfig struct {
	ScreenWidth    int
	ScreenHeight   int
	KeyboardLayout string
	// EngineParams are extra key=value pairs forwarded to the engine's
	// environment (§4.D). They are stored as the client supplied them;
	// the Engine Supervisor drops unsafe or oversized entries and caps
	// their count when it builds the engine environment.
	EngineParams map[string]string
}

// X11Session is the per-user display stack record (§3). The registry is
// its exclusive owner: other components hold short-lived references
// scoped to a request or forwarder cycle.
type X11Session struct {
	SessionID     string
	Secret        string
	Username      string
	UID           uint32
	GID           uint32
	DisplayNumber int
	XauthPath     string
	Config        SessionConfig
	DisplayHandle *process.Handle
	WMHandle      *process.Handle
	CreatedAt     time.Time
}

// EngineSession is the per-session render engine record (§3). Exactly one
// EngineSession exists per X11Session while both are live.
type EngineSession struct {
	SessionID         string
	Secret            string
	EngineHandle      *process.Handle
	RequestSocketPath string
	LogPath           string
}

// CreationState enumerates the states of the async create state machine
// described in §4.F.
type CreationState int

const (
	StateAuthenticating CreationState = iota
	StateSpawningDisplay
	StateWaitingForDisplayReady
	StateSpawningWM
	StateSpawningEngine
	StateReady
	StateFailed
)

func (s CreationState) String() string {
	switch s {
	case StateAuthenticating:
		return "Authenticating"
	case StateSpawningDisplay:
		return "SpawningDisplay"
	case StateWaitingForDisplayReady:
		return "WaitingForDisplayReady"
	case StateSpawningWM:
		return "SpawningWm"
	case StateSpawningEngine:
		return "SpawningEngine"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureKind names which phase an async creation failed in, carried
// alongside StateFailed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureAuth
	FailureDisplay
	FailureWM
	FailureEngine
)

// PendingCreation tracks the progress of an in-flight (possibly async)
// session creation, observable via Registry.PendingState so that
// create_async clients can poll status(user) (§3, §4.F).
type PendingCreation struct {
	Username string
	// CorrelationID tags every log line and status poll belonging to one
	// creation attempt, following sa6mwa-lockd's request-tagging use of
	// google/uuid — the registry never interprets it, only carries it.
	CorrelationID string
	RequestedAt   time.Time
	State         CreationState
	Failure       FailureKind
	SessionID     string // populated once State == StateReady
	Secret        string // populated once State == StateReady
}
