// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package shutdown implements the Signal & Shutdown Controller (§4.J):
// SIGTERM/SIGINT/SIGQUIT trigger an orderly drain of every live session
// within a bounded grace period, while a second signal forces an
// immediate non-zero exit, grounded on the daemon's
// signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM) pattern
// (cmd/bureau-daemon/main.go) and its emergencyShutdown escape hatch
// (cmd/bureau-daemon/shutdown.go).
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DrainFunc tears down every live session. Implemented by
// *registry.Registry.DrainAll, injected rather than imported directly so
// this package stays free of registry's process-supervision concerns.
type DrainFunc func(gracePeriod time.Duration)

// KillFunc hard-kills every live session's processes with no grace
// period. Implemented by *registry.Registry.KillAllNow, injected for the
// same reason as DrainFunc.
type KillFunc func()

// exitNow is os.Exit by default; tests override it to observe the
// second-signal path without terminating the test binary.
var exitNow = os.Exit

// Controller owns the process's signal handling and the bounded drain
// that runs on shutdown (§4.J).
type Controller struct {
	drain        DrainFunc
	killNow      KillFunc
	gracePeriod  time.Duration
	drainTimeout time.Duration
	logger       *slog.Logger
	drained      chan struct{}
}

// New creates a Controller. gracePeriod is passed through to each
// session's process.Handle.Stop; drainTimeout bounds how long shutdown
// waits for the overall drain before closing Done anyway (the drain
// goroutine keeps running in the background).
// killNow is invoked once, synchronously, if a second termination signal
// arrives while the drain is still in flight.
func New(drain DrainFunc, killNow KillFunc, gracePeriod, drainTimeout time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{drain: drain, killNow: killNow, gracePeriod: gracePeriod, drainTimeout: drainTimeout, logger: logger, drained: make(chan struct{})}
}

// Done returns a channel closed once the drain triggered by Run has
// either finished or timed out. main blocks on this before waiting for
// its serve loops to return, so the process does not exit mid-teardown.
func (c *Controller) Done() <-chan struct{} {
	return c.drained
}

// Run installs the termination-signal handlers and returns at once. It
// returns the context that callers should thread through their own serve
// loops, cancelled the moment the first signal arrives so every component
// starts shutting down concurrently with the drain. A background
// goroutine then drains every session and closes Done. A second signal
// received while draining hard-kills every session via killNow and calls
// os.Exit(1) immediately — this process never continues past the second
// signal.
func (c *Controller) Run(parent context.Context) context.Context {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-ctx.Done()
		stop()
		c.logger.Info("shutdown signal received, draining sessions", "grace_period", c.gracePeriod)

		second := make(chan os.Signal, 1)
		signal.Notify(second, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		go func() {
			<-second
			c.logger.Warn("second shutdown signal received, hard-killing all sessions and exiting")
			if c.killNow != nil {
				c.killNow()
			}
			exitNow(1)
		}()

		done := make(chan struct{})
		go func() {
			c.drain(c.gracePeriod)
			close(done)
		}()

		select {
		case <-done:
			c.logger.Info("drain complete")
		case <-time.After(c.drainTimeout):
			c.logger.Warn("drain timed out, continuing shutdown with sessions possibly still live", "timeout", c.drainTimeout)
		}

		signal.Stop(second)
		close(c.drained)
	}()

	return ctx
}
