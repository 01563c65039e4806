// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os/exec"
	"testing"
	"time"

	"github.com/ILLGrenoble/webx-router/internal/process"
)

func spawnSleeper(t *testing.T) *process.Handle {
	t.Helper()
	h, err := process.Start(exec.Command("sleep", "5"))
	if err != nil {
		t.Fatalf("failed to spawn sleeper: %v", err)
	}
	t.Cleanup(func() { h.Stop(process.DefaultGracePeriod) })
	return h
}

func TestInsert_RejectsDuplicateUsername(t *testing.T) {
	r := New(nil)

	first := &X11Session{SessionID: "a", Username: "alice", DisplayNumber: 10}
	second := &X11Session{SessionID: "b", Username: "alice", DisplayNumber: 11}

	if err := r.Insert(first); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := r.Insert(second); err == nil {
		t.Fatal("expected error inserting duplicate username")
	}
}

func TestInsert_RejectsDuplicateDisplay(t *testing.T) {
	r := New(nil)

	first := &X11Session{SessionID: "a", Username: "alice", DisplayNumber: 10}
	second := &X11Session{SessionID: "b", Username: "bob", DisplayNumber: 10}

	if err := r.Insert(first); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := r.Insert(second); err == nil {
		t.Fatal("expected error inserting duplicate display number")
	}
}

func TestFindByUser_ReuseScenario(t *testing.T) {
	r := New(nil)
	session := &X11Session{SessionID: "s1", Secret: "secret1", Username: "alice", DisplayNumber: 20}
	if err := r.Insert(session); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	found, ok := r.FindByUser("alice")
	if !ok {
		t.Fatal("expected to find session for alice")
	}
	if found.SessionID != "s1" || found.Secret != "secret1" {
		t.Errorf("expected reused session id/secret to be preserved, got %+v", found)
	}
}

func TestRemove_StopsAllProcessesAndFreesDisplay(t *testing.T) {
	r := New(nil)

	display := spawnSleeper(t)
	wm := spawnSleeper(t)
	engine := spawnSleeper(t)

	session := &X11Session{
		SessionID:     "s1",
		Username:      "alice",
		DisplayNumber: 30,
		DisplayHandle: display,
		WMHandle:      wm,
	}
	if err := r.Insert(session); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := r.InsertEngine(&EngineSession{SessionID: "s1", EngineHandle: engine}); err != nil {
		t.Fatalf("insert engine failed: %v", err)
	}

	if !r.IsDisplayInUse(30) {
		t.Fatal("expected display 30 to be in use")
	}

	r.Remove("s1", 200*time.Millisecond)

	if r.IsDisplayInUse(30) {
		t.Error("expected display 30 to be freed after removal")
	}
	if _, ok := r.FindByID("s1"); ok {
		t.Error("expected session to be gone after removal")
	}
	if _, ok := r.Engine("s1"); ok {
		t.Error("expected engine session to be gone after removal")
	}
	if display.IsRunning() || wm.IsRunning() || engine.IsRunning() {
		t.Error("expected all three processes to be stopped")
	}
}

func TestReconcile_RemovesSessionWithDeadDisplay(t *testing.T) {
	r := New(nil)

	dead, err := process.Start(exec.Command("true"))
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let "true" exit

	session := &X11Session{SessionID: "s1", Username: "alice", DisplayNumber: 40, DisplayHandle: dead}
	if err := r.Insert(session); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	r.Reconcile(process.DefaultGracePeriod)

	if _, ok := r.FindByID("s1"); ok {
		t.Error("expected reconcile to remove session with dead display handle")
	}
}

func TestKillAllNow_KillsEveryHandleWithoutRemoving(t *testing.T) {
	r := New(nil)

	display := spawnSleeper(t)
	wm := spawnSleeper(t)
	engine := spawnSleeper(t)

	session := &X11Session{
		SessionID:     "s1",
		Username:      "alice",
		DisplayNumber: 60,
		DisplayHandle: display,
		WMHandle:      wm,
	}
	if err := r.Insert(session); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := r.InsertEngine(&EngineSession{SessionID: "s1", EngineHandle: engine}); err != nil {
		t.Fatalf("insert engine failed: %v", err)
	}

	r.KillAllNow()

	if display.IsRunning() || wm.IsRunning() || engine.IsRunning() {
		t.Error("expected all three processes to be killed")
	}
	// KillAllNow is meant for a process that is about to exit; it does not
	// reconcile the registry's own bookkeeping.
	if _, ok := r.FindByID("s1"); !ok {
		t.Error("expected KillAllNow to leave the session record in place")
	}
}

func TestPendingState_SetAndClear(t *testing.T) {
	r := New(nil)

	r.SetPending(&PendingCreation{Username: "bob", State: StateSpawningDisplay})
	p, ok := r.PendingState("bob")
	if !ok || p.State != StateSpawningDisplay {
		t.Fatalf("expected pending state SpawningDisplay, got %+v ok=%v", p, ok)
	}

	r.ClearPending("bob")
	if _, ok := r.PendingState("bob"); ok {
		t.Error("expected pending state to be cleared")
	}
}

func TestDrainAll_RemovesEverySession(t *testing.T) {
	r := New(nil)

	for i, username := range []string{"alice", "bob"} {
		h := spawnSleeper(t)
		session := &X11Session{SessionID: username, Username: username, DisplayNumber: 50 + i, DisplayHandle: h}
		if err := r.Insert(session); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	r.DrainAll(200 * time.Millisecond)

	if _, ok := r.FindByUser("alice"); ok {
		t.Error("expected alice's session to be drained")
	}
	if _, ok := r.FindByUser("bob"); ok {
		t.Error("expected bob's session to be drained")
	}
}
