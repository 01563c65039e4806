// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package sessionproxy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ILLGrenoble/webx-router/internal/pamauth"
	"github.com/ILLGrenoble/webx-router/internal/registry"
)

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	return New(Config{
		Registry: registry.New(nil),
		Auth:     pamauth.New("webx-router"),
	}, nil)
}

func TestDispatch_MalformedJSON(t *testing.T) {
	p := newTestProxy(t)
	body := p.dispatch(context.Background(), []byte("not json"))

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Code != CodeBadRequest {
		t.Errorf("Code = %v, want CodeBadRequest", resp.Code)
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	p := newTestProxy(t)
	req := request{Action: "teleport"}
	raw, _ := json.Marshal(req)

	body := p.dispatch(context.Background(), raw)

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Code != CodeBadRequest {
		t.Errorf("Code = %v, want CodeBadRequest", resp.Code)
	}
}

func TestHandleStatus_NoSessionNoPending(t *testing.T) {
	p := newTestProxy(t)
	resp := p.handleStatus(request{Username: "alice"})
	if resp.Code != CodeOK {
		t.Fatalf("Code = %v, want CodeOK", resp.Code)
	}
	if resp.State != "none" {
		t.Errorf("State = %q, want %q", resp.State, "none")
	}
}

func TestHandleStatus_ReportsPendingState(t *testing.T) {
	p := newTestProxy(t)
	p.registry.SetPending(&registry.PendingCreation{
		Username:    "alice",
		RequestedAt: time.Now(),
		State:       registry.StateSpawningEngine,
	})

	resp := p.handleStatus(request{Username: "alice"})
	if resp.State != registry.StateSpawningEngine.String() {
		t.Errorf("State = %q, want %q", resp.State, registry.StateSpawningEngine.String())
	}
}

func TestHandleStatus_ReadySessionTakesPriorityOverPending(t *testing.T) {
	p := newTestProxy(t)
	session := &registry.X11Session{SessionID: "sid", Secret: "sec", Username: "alice", DisplayNumber: 50}
	if err := p.registry.Insert(session); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	resp := p.handleStatus(request{Username: "alice"})
	if resp.Code != CodeOK || resp.State != registry.StateReady.String() {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.SessionID != "sid" || resp.Secret != "sec" {
		t.Errorf("unexpected session identity in response: %+v", resp)
	}
}

func TestHandleLogout_NotFound(t *testing.T) {
	p := newTestProxy(t)
	resp := p.handleLogout(request{SessionID: "missing", Secret: "x"})
	if resp.Code != CodeNotFound {
		t.Errorf("Code = %v, want CodeNotFound", resp.Code)
	}
}

func TestHandleLogout_WrongSecretForbidden(t *testing.T) {
	p := newTestProxy(t)
	session := &registry.X11Session{SessionID: "sid", Secret: "correct", Username: "alice", DisplayNumber: 51}
	if err := p.registry.Insert(session); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	resp := p.handleLogout(request{SessionID: "sid", Secret: "wrong"})
	if resp.Code != CodeForbidden {
		t.Errorf("Code = %v, want CodeForbidden", resp.Code)
	}
	if _, ok := p.registry.FindByID("sid"); !ok {
		t.Error("session should not have been removed on forbidden logout")
	}
}

func TestHandleLogout_RemovesSession(t *testing.T) {
	p := newTestProxy(t)
	session := &registry.X11Session{SessionID: "sid", Secret: "correct", Username: "alice", DisplayNumber: 52}
	if err := p.registry.Insert(session); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	resp := p.handleLogout(request{SessionID: "sid", Secret: "correct"})
	if resp.Code != CodeOK {
		t.Fatalf("Code = %v, want CodeOK", resp.Code)
	}
	if _, ok := p.registry.FindByID("sid"); ok {
		t.Error("session should have been removed")
	}
}

func TestHandlePing_UnknownSession(t *testing.T) {
	p := newTestProxy(t)
	resp := p.handlePing(context.Background(), request{SessionID: "missing", Secret: "x"})
	if resp.Code != CodeNotFound {
		t.Errorf("Code = %v, want CodeNotFound", resp.Code)
	}
}

func TestHandlePing_WrongSecretForbidden(t *testing.T) {
	p := newTestProxy(t)
	session := &registry.X11Session{SessionID: "sid", Secret: "correct", Username: "alice", DisplayNumber: 53}
	if err := p.registry.Insert(session); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	resp := p.handlePing(context.Background(), request{SessionID: "sid", Secret: "wrong"})
	if resp.Code != CodeForbidden {
		t.Errorf("Code = %v, want CodeForbidden", resp.Code)
	}
}

func TestHandleList_ForbiddenWithoutVerifier(t *testing.T) {
	p := newTestProxy(t)
	resp := p.handleList(request{Username: "alice", Password: "x"})
	if resp.Code != CodeForbidden {
		t.Errorf("Code = %v, want CodeForbidden", resp.Code)
	}
}

func TestLockFor_ReturnsSameMutexForSameUsername(t *testing.T) {
	p := newTestProxy(t)
	a := p.lockFor("alice")
	b := p.lockFor("alice")
	if a != b {
		t.Error("lockFor should return the same *sync.Mutex for the same username")
	}
	c := p.lockFor("bob")
	if a == c {
		t.Error("lockFor should return distinct mutexes for distinct usernames")
	}
}
