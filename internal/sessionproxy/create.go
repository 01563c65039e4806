// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package sessionproxy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ILLGrenoble/webx-router/internal/keys"
	"github.com/ILLGrenoble/webx-router/internal/registry"
	"github.com/ILLGrenoble/webx-router/internal/routererr"
	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

// pendingGrace is how long a terminal Ready/Failed pending-creation
// record is retained after it was recorded; the first status call for
// that username after this period removes it (§4.F).
const pendingGrace = 30 * time.Second

// createOrReuse implements create/create_async's shared pipeline (§4.F
// state machine). If a live session already exists for username, it is
// returned unchanged — create(u, p, ...) is idempotent (§8).
func (p *Proxy) createOrReuse(ctx context.Context, username string, password *secretbuf.Buffer, cfg registry.SessionConfig) (*registry.X11Session, error) {
	if existing, ok := p.registry.FindByUser(username); ok {
		return existing, nil
	}

	// correlationID ties every pending-state transition and log line in
	// this attempt together, following sa6mwa-lockd's request-tagging use
	// of google/uuid — it never crosses into wire response fields other
	// than status, which echoes it back so a stuck create_async can be
	// traced through the router's logs.
	correlationID := uuid.NewString()
	p.logger.Info("session creation started", "username", username, "correlation_id", correlationID)

	p.registry.SetPending(&registry.PendingCreation{Username: username, CorrelationID: correlationID, RequestedAt: time.Now(), State: registry.StateAuthenticating})

	account, err := p.auth.Authenticate(username, password)
	if err != nil {
		p.failPending(username, correlationID, registry.FailureAuth)
		return nil, err
	}

	p.registry.SetPending(&registry.PendingCreation{Username: username, CorrelationID: correlationID, RequestedAt: time.Now(), State: registry.StateSpawningDisplay})

	onPhase := func(state registry.CreationState) {
		p.registry.SetPending(&registry.PendingCreation{Username: username, CorrelationID: correlationID, RequestedAt: time.Now(), State: state})
	}
	displayResult, err := p.displaySup.StartDisplay(ctx, account, cfg, engineEnvFromConfig(cfg), onPhase)
	if err != nil {
		kind := routererr.KindOf(err)
		if kind == routererr.KindWindowManager {
			p.failPending(username, correlationID, registry.FailureWM)
		} else {
			p.failPending(username, correlationID, registry.FailureDisplay)
		}
		return nil, err
	}

	p.registry.SetPending(&registry.PendingCreation{Username: username, CorrelationID: correlationID, RequestedAt: time.Now(), State: registry.StateSpawningEngine})

	sessionID, err := keys.RandomHex128()
	if err != nil {
		displayResult.WMHandle.Stop(gracePeriod())
		displayResult.DisplayHandle.Stop(gracePeriod())
		p.failPending(username, correlationID, registry.FailureDisplay)
		return nil, routererr.Wrap(routererr.KindInternal, "generating session id", err)
	}
	secret, err := keys.RandomHex128()
	if err != nil {
		displayResult.WMHandle.Stop(gracePeriod())
		displayResult.DisplayHandle.Stop(gracePeriod())
		p.failPending(username, correlationID, registry.FailureDisplay)
		return nil, routererr.Wrap(routererr.KindInternal, "generating session secret", err)
	}

	session := &registry.X11Session{
		SessionID:     sessionID,
		Secret:        secret,
		Username:      username,
		UID:           account.UID,
		GID:           account.GID,
		DisplayNumber: displayResult.DisplayNumber,
		XauthPath:     displayResult.XauthPath,
		Config:        cfg,
		DisplayHandle: displayResult.DisplayHandle,
		WMHandle:      displayResult.WMHandle,
		CreatedAt:     time.Now(),
	}

	if err := p.registry.Insert(session); err != nil {
		displayResult.WMHandle.Stop(gracePeriod())
		displayResult.DisplayHandle.Stop(gracePeriod())
		p.failPending(username, correlationID, registry.FailureDisplay)
		return nil, routererr.Wrap(routererr.KindInternal, "registering session", err)
	}

	engineSession, client, err := p.engineSup.StartEngine(ctx, session, account)
	if err != nil {
		p.registry.Remove(session.SessionID, gracePeriod())
		p.failPending(username, correlationID, registry.FailureEngine)
		return nil, err
	}

	if err := p.registry.InsertEngine(engineSession); err != nil {
		client.Close()
		p.registry.Remove(session.SessionID, gracePeriod())
		p.failPending(username, correlationID, registry.FailureEngine)
		return nil, routererr.Wrap(routererr.KindInternal, "registering engine session", err)
	}

	p.setEngineClient(session.SessionID, client)

	p.registry.SetPending(&registry.PendingCreation{
		Username:      username,
		CorrelationID: correlationID,
		RequestedAt:   time.Now(),
		State:         registry.StateReady,
		SessionID:     session.SessionID,
		Secret:        session.Secret,
	})
	p.logger.Info("session creation finished", "username", username, "correlation_id", correlationID, "session_id", session.SessionID)

	return session, nil
}

func (p *Proxy) failPending(username, correlationID string, kind registry.FailureKind) {
	p.registry.SetPending(&registry.PendingCreation{
		Username:      username,
		CorrelationID: correlationID,
		RequestedAt:   time.Now(),
		State:         registry.StateFailed,
		Failure:       kind,
	})
}

// createAsync launches createOrReuse on a worker goroutine and returns at
// once, so the REP loop's reply path is never blocked by authentication,
// fork/exec, or readiness polling (§5). The goroutine waits for a slot in
// the proxy's creation semaphore before it starts, so at most
// maxConcurrentCreates asynchronous creations run at the same time.
func (p *Proxy) createAsync(username string, password *secretbuf.Buffer, cfg registry.SessionConfig) {
	go func() {
		p.createSem <- struct{}{}
		defer func() { <-p.createSem }()
		defer password.Close()

		lock := p.lockFor(username)
		lock.Lock()
		defer lock.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := p.createOrReuse(ctx, username, password, cfg); err != nil {
			p.logger.Error("async session creation failed", "username", username, "error", err)
		}
	}()
}

func engineEnvFromConfig(cfg registry.SessionConfig) map[string]string {
	env := make(map[string]string, len(cfg.EngineParams))
	for k, v := range cfg.EngineParams {
		env[k] = v
	}
	return env
}

func gracePeriod() time.Duration {
	return 3 * time.Second
}
