// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Registry is the concurrency-safe container described in §4.E. It is the
// exclusive owner of X11Session and EngineSession records and therefore of
// their ProcessHandles.
//
// Per §5 and §9, no component — including Registry's own methods — holds
// this mutex across a syscall that may block (spawn, waitpid, network).
// Mutating methods follow lookup → clone minimal state → release → operate
// → reacquire for mutation; Remove is the one operation that must perform
// process teardown, and it does so after releasing the lock for the
// blocking Stop calls, then reacquiring only to delete the map entries.
type Registry struct {
	mu       sync.Mutex
	byUser   map[string]*X11Session
	byID     map[string]*X11Session
	engines  map[string]*EngineSession // keyed by session id
	displays map[int]string            // display number -> session id, enforces uniqueness
	pending  map[string]*PendingCreation

	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser:   make(map[string]*X11Session),
		byID:     make(map[string]*X11Session),
		engines:  make(map[string]*EngineSession),
		displays: make(map[int]string),
		pending:  make(map[string]*PendingCreation),
		logger:   logger,
	}
}

// FindByUser returns the live X11Session for username, if any. Used by
// create to detect and reuse an existing session (§8 "Reuse" scenario).
func (r *Registry) FindByUser(username string) (*X11Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUser[username]
	return s, ok
}

// FindByID returns the live X11Session for sessionID, if any.
func (r *Registry) FindByID(sessionID string) (*X11Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// Engine returns the EngineSession for sessionID, if any.
func (r *Registry) Engine(sessionID string) (*EngineSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[sessionID]
	return e, ok
}

// Insert atomically adds session to the registry, rejecting a duplicate
// username or display number (§3 invariant: username and display_number
// are each unique among live sessions).
func (r *Registry) Insert(session *X11Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUser[session.Username]; exists {
		return fmt.Errorf("registry: session already exists for user %q", session.Username)
	}
	if owner, exists := r.displays[session.DisplayNumber]; exists {
		return fmt.Errorf("registry: display %d already claimed by session %q", session.DisplayNumber, owner)
	}

	r.byUser[session.Username] = session
	r.byID[session.SessionID] = session
	r.displays[session.DisplayNumber] = session.SessionID
	return nil
}

// InsertEngine atomically adds an EngineSession, created on first
// successful liveness check after spawn (§3).
func (r *Registry) InsertEngine(engine *EngineSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[engine.SessionID]; !exists {
		return fmt.Errorf("registry: no X11 session %q for engine session", engine.SessionID)
	}
	r.engines[engine.SessionID] = engine
	return nil
}

// All returns a snapshot of every live X11Session, used by the Session
// Proxy's admin-gated list verb (§4.F).
func (r *Registry) All() []*X11Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*X11Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// IsDisplayInUse reports whether displayNumber is currently claimed by a
// live session. Display Supervisor consults this (alongside the lock-file
// check) while probing for a free number (§4.C step 1).
func (r *Registry) IsDisplayInUse(displayNumber int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.displays[displayNumber]
	return exists
}

// Remove tears down the session identified by sessionID in the order
// mandated by §4.E / §7: engine, then window manager, then X server, then
// release of the display slot. gracePeriod is passed through to each
// process.Handle.Stop. Safe to call on an unknown sessionID (no-op).
func (r *Registry) Remove(sessionID string, gracePeriod time.Duration) {
	r.mu.Lock()
	session, ok := r.byID[sessionID]
	engine, hasEngine := r.engines[sessionID]
	r.mu.Unlock()

	if !ok {
		return
	}

	if hasEngine && engine.EngineHandle != nil {
		if err := engine.EngineHandle.Stop(gracePeriod); err != nil {
			r.logger.Error("stopping engine", "session_id", sessionID, "error", err)
		}
	}
	if session.WMHandle != nil {
		if err := session.WMHandle.Stop(gracePeriod); err != nil {
			r.logger.Error("stopping window manager", "session_id", sessionID, "error", err)
		}
	}
	if session.DisplayHandle != nil {
		if err := session.DisplayHandle.Stop(gracePeriod); err != nil {
			r.logger.Error("stopping display server", "session_id", sessionID, "error", err)
		}
	}
	removeLockFile(session.DisplayNumber)

	r.mu.Lock()
	delete(r.byUser, session.Username)
	delete(r.byID, sessionID)
	delete(r.engines, sessionID)
	delete(r.displays, session.DisplayNumber)
	r.mu.Unlock()

	r.logger.Info("session torn down", "session_id", sessionID, "username", session.Username)
}

// Reconcile inspects every live session's process handles and removes any
// whose display server or window manager has exited, honoring the
// invariant that engine_handle().is_running() implies both parents are
// running (§8). Intended to run on a timer (§5, "reaper thread").
func (r *Registry) Reconcile(gracePeriod time.Duration) {
	r.mu.Lock()
	stale := make([]string, 0)
	for id, session := range r.byID {
		displayDead := session.DisplayHandle != nil && !session.DisplayHandle.IsRunning()
		wmDead := session.WMHandle != nil && !session.WMHandle.IsRunning()
		if displayDead || wmDead {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.logger.Warn("reconcile: removing session with dead display or window manager", "session_id", id)
		r.Remove(id, gracePeriod)
	}
}

// DrainAll tears down every live session, used during shutdown (§4.J) and
// §8's "after orderly shutdown, no child process... remains alive"
// invariant.
func (r *Registry) DrainAll(gracePeriod time.Duration) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id, gracePeriod)
	}
}

// KillAllNow hard-kills every live session's engine, window manager, and
// display handles with SIGKILL, bypassing the graceful Stop escalation
// DrainAll uses. It does not remove the torn-down sessions from the
// registry's maps — the process is about to exit, so there is nothing
// left to reconcile against. Used only by the shutdown controller's
// second-signal path (§4.J), which exists precisely to bypass a drain
// already in flight.
func (r *Registry) KillAllNow() {
	r.mu.Lock()
	engines := make([]*EngineSession, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	sessions := make([]*X11Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, e := range engines {
		if e.EngineHandle != nil {
			e.EngineHandle.KillNow()
		}
	}
	for _, s := range sessions {
		if s.WMHandle != nil {
			s.WMHandle.KillNow()
		}
		if s.DisplayHandle != nil {
			s.DisplayHandle.KillNow()
		}
	}
}

// SetPending records or updates the pending-creation state for username.
func (r *Registry) SetPending(p *PendingCreation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.Username] = p
}

// PendingState returns the current pending-creation record for username,
// if any (§3, §4.F status verb).
func (r *Registry) PendingState(username string) (*PendingCreation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[username]
	return p, ok
}

// ClearPending removes the pending-creation record for username. Called
// by the status verb when it finds a terminal state (Ready/Failed) older
// than the pending grace period (§4.F); no timer removes records without
// a status call.
func (r *Registry) ClearPending(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, username)
}

// removeLockFile removes the X11 lock file for a display number, part of
// leaving "no X lock file created by the router" after shutdown (§8).
func removeLockFile(displayNumber int) {
	path := fmt.Sprintf("/tmp/.X%d-lock", displayNumber)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Default().Warn("removing X11 lock file", "path", path, "error", err)
	}
}
