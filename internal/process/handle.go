// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides Handle, a scoped wrapper around a spawned
// child process (§4.A). Acquisition records the pid; readiness is checked
// separately through WaitReady and a ReadyFunc. Release sends a graceful
// SIGTERM, waits up to a bounded grace period, then SIGKILL, then reaps.
//
// A Handle is shareable for read (Pid, IsRunning) but single-owner for
// termination — once a session is registered, only the Session Registry
// (internal/registry) stops its handles, matching §3's ownership rule
// that the registry exclusively owns session structs and therefore their
// handles. Before that, the code that spawned a handle (the display and
// engine supervisors, the session creation flow) stops it when a start
// fails.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before
// escalating to SIGKILL.
const DefaultGracePeriod = 3 * time.Second

// ReadyFunc polls for a child's readiness (e.g., the X server's listening
// socket, §4.C step 4). It should return quickly and be safe to call
// repeatedly; Handle.WaitReady calls it on a short interval until it
// returns true, the context is cancelled, or the timeout elapses.
type ReadyFunc func(ctx context.Context) (bool, error)

// Handle wraps a spawned child process. The zero value is not usable;
// construct with Start.
type Handle struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	pid     int
	stopped bool
	waitErr error
	waitCh  chan struct{}
}

// Start spawns cmd and returns a Handle for it. The caller retains no
// other reference to cmd after this call — all interaction happens
// through the Handle.
func Start(cmd *exec.Cmd) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting process %q: %w", cmd.Path, err)
	}

	h := &Handle{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		waitCh: make(chan struct{}),
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitCh)
	}()

	return h, nil
}

// Pid returns the process ID of the wrapped child.
func (h *Handle) Pid() int {
	return h.pid
}

// IsRunning reports whether the process has not yet exited. Non-blocking;
// analogous to waitpid with WNOHANG.
func (h *Handle) IsRunning() bool {
	select {
	case <-h.waitCh:
		return false
	default:
		return true
	}
}

// WaitReady blocks until ready returns true, ctx is done, or the process
// exits — whichever happens first. Returns an error if the process exits
// or the context is cancelled before readiness is observed.
func (h *Handle) WaitReady(ctx context.Context, ready ReadyFunc) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := ready(ctx)
		if err != nil {
			return fmt.Errorf("checking readiness: %w", err)
		}
		if ok {
			return nil
		}
		if !h.IsRunning() {
			return fmt.Errorf("process exited before becoming ready (pid=%d)", h.pid)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for readiness (pid=%d): %w", h.pid, ctx.Err())
		case <-h.waitCh:
			return fmt.Errorf("process exited before becoming ready (pid=%d)", h.pid)
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM, waits up to gracePeriod for the process to exit,
// then sends SIGKILL and waits for the reap to complete. Stop is
// idempotent and safe to call on an already-exited process.
func (h *Handle) Stop(gracePeriod time.Duration) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if !h.IsRunning() {
		<-h.waitCh
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && h.IsRunning() {
		return fmt.Errorf("sending SIGTERM to pid %d: %w", h.pid, err)
	}

	select {
	case <-h.waitCh:
		return nil
	case <-time.After(gracePeriod):
	}

	if err := h.cmd.Process.Kill(); err != nil && h.IsRunning() {
		return fmt.Errorf("sending SIGKILL to pid %d: %w", h.pid, err)
	}

	<-h.waitCh
	return nil
}

// KillNow sends SIGKILL immediately and waits for the process to be
// reaped, skipping the SIGTERM/grace-period escalation Stop performs.
// Idempotent and safe to call on an already-exited or already-stopped
// process. Used by the shutdown controller's second-signal path, which
// is explicitly meant to bypass a drain already in flight.
func (h *Handle) KillNow() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if !h.IsRunning() {
		<-h.waitCh
		return nil
	}

	if err := h.cmd.Process.Kill(); err != nil && h.IsRunning() {
		return fmt.Errorf("sending SIGKILL to pid %d: %w", h.pid, err)
	}

	<-h.waitCh
	return nil
}
