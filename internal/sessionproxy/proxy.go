// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package sessionproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/ILLGrenoble/webx-router/internal/clicreds"
	"github.com/ILLGrenoble/webx-router/internal/display"
	"github.com/ILLGrenoble/webx-router/internal/engine"
	"github.com/ILLGrenoble/webx-router/internal/keys"
	"github.com/ILLGrenoble/webx-router/internal/pamauth"
	"github.com/ILLGrenoble/webx-router/internal/registry"
	"github.com/ILLGrenoble/webx-router/internal/routererr"
	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

// maxConcurrentCreates bounds how many create_async creations run at once
// (§5). Every request, create included, is served on its own dispatch
// goroutine, so pings, status, list, and logout for other sessions are
// never queued behind a slow create.
const maxConcurrentCreates = 8

// Proxy is the Session Proxy (§4.F): a single ROUTER socket serving every
// verb, dispatching create/create_async to worker goroutines so a slow
// authentication or display spawn never blocks a concurrent ping or
// status call for a different session.
type Proxy struct {
	registry   *registry.Registry
	auth       *pamauth.Authenticator
	displaySup *display.Supervisor
	engineSup  *engine.Supervisor
	verifier   *clicreds.Verifier
	keypair    *keys.Keypair
	logger     *slog.Logger

	createSem chan struct{}

	userLocksMu sync.Mutex
	userLocks   map[string]*sync.Mutex

	clientsMu sync.Mutex
	clients   map[string]*engine.Client // session id -> engine reply client
}

// Config bundles the collaborators the Session Proxy dispatches to.
type Config struct {
	Registry   *registry.Registry
	Auth       *pamauth.Authenticator
	DisplaySup *display.Supervisor
	EngineSup  *engine.Supervisor
	Verifier   *clicreds.Verifier
	Keypair    *keys.Keypair
}

// New creates a Proxy.
func New(cfg Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		registry:   cfg.Registry,
		auth:       cfg.Auth,
		displaySup: cfg.DisplaySup,
		engineSup:  cfg.EngineSup,
		verifier:   cfg.Verifier,
		keypair:    cfg.Keypair,
		logger:     logger,
		createSem:  make(chan struct{}, maxConcurrentCreates),
		userLocks:  make(map[string]*sync.Mutex),
		clients:    make(map[string]*engine.Client),
	}
}

// envelope pairs a ROUTER identity frame with the request body received
// alongside it, so the reply-writer goroutine can route the answer back
// to the same peer without the dispatch goroutines touching the socket.
type envelope struct {
	identity zmq4.Msg
	body     []byte
}

type outgoing struct {
	identity zmq4.Msg
	body     []byte
}

// Run binds a CURVE-secured ROUTER socket at addr and serves requests
// until ctx is cancelled (§4.F, §6). Each request is dispatched to its
// own goroutine; a single goroutine owns the socket's Send calls, since
// zmq4 sockets do not support concurrent callers.
func (p *Proxy) Run(ctx context.Context, addr string) error {
	socket, err := newSecureRouter(ctx, p.keypair)
	if err != nil {
		return fmt.Errorf("configuring session proxy security: %w", err)
	}
	defer socket.Close()

	if err := socket.Listen(addr); err != nil {
		return fmt.Errorf("binding session proxy socket %s: %w", addr, err)
	}
	p.logger.Info("session proxy listening", "addr", addr)

	incoming := make(chan envelope)
	replies := make(chan outgoing)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p.recvLoop(ctx, socket, incoming)
	}()
	go func() {
		defer wg.Done()
		p.replyLoop(ctx, socket, replies)
	}()

	var inflight sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			wg.Wait()
			return nil
		case env, ok := <-incoming:
			if !ok {
				inflight.Wait()
				wg.Wait()
				return nil
			}
			inflight.Add(1)
			go func(env envelope) {
				defer inflight.Done()
				body := p.dispatch(ctx, env.body)
				select {
				case replies <- outgoing{identity: env.identity, body: body}:
				case <-ctx.Done():
				}
			}(env)
		}
	}
}

// recvLoop is the only goroutine that calls socket.Recv. ROUTER sockets
// prefix every message with the sender's identity frame; that frame is
// preserved so the reply can be routed back without a rendezvous table.
func (p *Proxy) recvLoop(ctx context.Context, socket zmq4.Socket, out chan<- envelope) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("session proxy recv failed", "error", err)
			continue
		}
		if len(msg.Frames) < 2 {
			p.logger.Warn("session proxy received malformed envelope", "frames", len(msg.Frames))
			continue
		}
		identity := zmq4.NewMsgFrom(msg.Frames[0])
		body := msg.Frames[len(msg.Frames)-1]
		select {
		case out <- envelope{identity: identity, body: body}:
		case <-ctx.Done():
			return
		}
	}
}

// replyLoop is the only goroutine that calls socket.Send.
func (p *Proxy) replyLoop(ctx context.Context, socket zmq4.Socket, in <-chan outgoing) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-in:
			frames := [][]byte{msg.identity.Frames[0], {}, msg.body}
			if err := socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
				p.logger.Warn("session proxy send failed", "error", err)
			}
		}
	}
}

// dispatch decodes one request, routes it to the matching verb handler,
// and encodes the response — never returning an error itself, since a
// malformed request is answered with CodeBadRequest rather than dropped.
func (p *Proxy) dispatch(ctx context.Context, raw []byte) []byte {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(response{Code: CodeBadRequest, Error: "malformed request"})
	}

	var resp response
	switch req.Action {
	case "create":
		resp = p.handleCreate(ctx, req)
	case "create_async":
		resp = p.handleCreateAsync(req)
	case "status":
		resp = p.handleStatus(req)
	case "list":
		resp = p.handleList(req)
	case "logout":
		resp = p.handleLogout(req)
	case "ping":
		resp = p.handlePing(ctx, req)
	default:
		resp = response{Code: CodeBadRequest, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
	return encode(resp)
}

func encode(resp response) []byte {
	body, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a struct of only strings/ints/slices cannot fail;
		// this is a hard invariant violation if it ever does.
		return []byte(`{"code":0,"error":"internal encoding failure"}`)
	}
	return body
}

func sessionConfigFrom(req request) registry.SessionConfig {
	return registry.SessionConfig{
		ScreenWidth:    req.Width,
		ScreenHeight:   req.Height,
		KeyboardLayout: req.KeyboardLayout,
		EngineParams:   req.EngineParams,
	}
}

func (p *Proxy) handleCreate(ctx context.Context, req request) response {
	if req.Username == "" {
		return response{Code: CodeBadRequest, Error: "username required"}
	}

	password, err := secretbuf.NewFromBytes([]byte(req.Password))
	if err != nil {
		return response{Code: CodeCreationFailed, Error: "internal error securing credentials"}
	}
	defer password.Close()

	lock := p.lockFor(req.Username)
	lock.Lock()
	defer lock.Unlock()

	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	session, err := p.createOrReuse(createCtx, req.Username, password, sessionConfigFrom(req))
	if err != nil {
		return responseForCreationError(err)
	}
	return response{Code: CodeOK, SessionID: session.SessionID, Secret: session.Secret}
}

func (p *Proxy) handleCreateAsync(req request) response {
	if req.Username == "" {
		return response{Code: CodeBadRequest, Error: "username required"}
	}
	if existing, ok := p.registry.FindByUser(req.Username); ok {
		return response{Code: CodeOK, SessionID: existing.SessionID, Secret: existing.Secret}
	}

	password, err := secretbuf.NewFromBytes([]byte(req.Password))
	if err != nil {
		return response{Code: CodeCreationFailed, Error: "internal error securing credentials"}
	}

	p.createAsync(req.Username, password, sessionConfigFrom(req))
	return response{Code: CodeOK, State: registry.StateAuthenticating.String()}
}

func responseForCreationError(err error) response {
	switch routererr.KindOf(err) {
	case routererr.KindAuthentication, routererr.KindUserNotFound, routererr.KindPam:
		return response{Code: CodeAuthFailed, Error: err.Error()}
	default:
		return response{Code: CodeCreationFailed, Error: err.Error()}
	}
}

func (p *Proxy) handleStatus(req request) response {
	if req.Username == "" {
		return response{Code: CodeBadRequest, Error: "username required"}
	}

	if session, ok := p.registry.FindByUser(req.Username); ok {
		return response{Code: CodeOK, State: registry.StateReady.String(), SessionID: session.SessionID, Secret: session.Secret}
	}

	pending, ok := p.registry.PendingState(req.Username)
	if !ok {
		return response{Code: CodeOK, State: "none"}
	}

	if pending.State == registry.StateReady || pending.State == registry.StateFailed {
		if time.Since(pending.RequestedAt) > pendingGrace {
			p.registry.ClearPending(req.Username)
		}
	}

	resp := response{Code: CodeOK, State: pending.State.String(), CorrelationID: pending.CorrelationID}
	if pending.State == registry.StateReady {
		resp.SessionID = pending.SessionID
		resp.Secret = pending.Secret
	}
	return resp
}

// handleList is admin-gated (§9 Open Question, resolved in DESIGN.md):
// only reachable when the caller can prove it is the local CLI user, via
// the same credentials-file check used for the PAM bypass.
func (p *Proxy) handleList(req request) response {
	if p.verifier == nil || !p.verifier.Verify(req.Username, req.Password) {
		return response{Code: CodeForbidden, Error: "list requires local CLI credentials"}
	}

	sessions := p.registry.All()
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			SessionID: s.SessionID,
			Username:  s.Username,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return response{Code: CodeOK, Sessions: summaries}
}

func (p *Proxy) handleLogout(req request) response {
	session, ok := p.registry.FindByID(req.SessionID)
	if !ok {
		return response{Code: CodeNotFound}
	}
	if !secretbuf.Equal(req.Secret, session.Secret) {
		return response{Code: CodeForbidden}
	}

	p.dropEngineClient(req.SessionID)
	p.registry.Remove(req.SessionID, gracePeriod())
	return response{Code: CodeOK}
}

func (p *Proxy) handlePing(ctx context.Context, req request) response {
	session, ok := p.registry.FindByID(req.SessionID)
	if !ok {
		return response{Code: CodeNotFound}
	}
	if !secretbuf.Equal(req.Secret, session.Secret) {
		return response{Code: CodeForbidden}
	}

	client := p.engineClient(req.SessionID)
	if client == nil {
		return response{Code: CodeNotFound}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// §7: a transport failure on the engine's reply socket is retried
	// once (the client itself discards and rebuilds the socket after the
	// first failure) before being reported to the caller.
	err := client.Ping(pingCtx)
	if err != nil {
		err = client.Ping(pingCtx)
	}
	if err != nil {
		return response{Code: CodeTimeout, Error: "engine did not respond"}
	}
	return response{Code: CodeOK}
}

func (p *Proxy) lockFor(username string) *sync.Mutex {
	p.userLocksMu.Lock()
	defer p.userLocksMu.Unlock()
	lock, ok := p.userLocks[username]
	if !ok {
		lock = &sync.Mutex{}
		p.userLocks[username] = lock
	}
	return lock
}

func (p *Proxy) setEngineClient(sessionID string, client *engine.Client) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	p.clients[sessionID] = client
}

func (p *Proxy) engineClient(sessionID string) *engine.Client {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	return p.clients[sessionID]
}

func (p *Proxy) dropEngineClient(sessionID string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	delete(p.clients, sessionID)
}
