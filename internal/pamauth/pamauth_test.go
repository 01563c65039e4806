// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package pamauth

import (
	"os"
	"os/user"
	"testing"

	"github.com/ILLGrenoble/webx-router/internal/clicreds"
)

func TestResolveAccount_CurrentUser(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user: %v", err)
	}

	account, err := resolveAccount(current.Username)
	if err != nil {
		t.Fatalf("resolveAccount failed: %v", err)
	}
	if account.Username != current.Username {
		t.Errorf("expected username %q, got %q", current.Username, account.Username)
	}
	if account.Home == "" {
		t.Error("expected non-empty home directory")
	}
}

func TestResolveAccount_UnknownUser(t *testing.T) {
	_, err := resolveAccount("no-such-user-webx-router-test")
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestIsLocalCredentialsFile_RejectsUnknownUser(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user: %v", err)
	}

	home := t.TempDir()
	if _, err := clicreds.Ensure(home); err != nil {
		t.Fatalf("clicreds.Ensure failed: %v", err)
	}

	// isLocalCredentialsFile resolves the home directory via os/user, which
	// this test cannot redirect, so it only checks that clicreds.Ensure
	// itself produces the 0600 file isLocalCredentialsFile looks for,
	// rather than exercising the full username-to-home resolution here.
	info, err := os.Stat(clicreds.Path(home))
	if err != nil || info.Mode().Perm() != 0600 {
		t.Fatalf("expected clicreds.Ensure to produce a 0600 file, got %v / %v", info, err)
	}

	if isLocalCredentialsFile("definitely-not-" + current.Username) {
		t.Error("expected mismatched username to not match")
	}
}

func TestEnvironmentFor_SetsHomeFromAccount(t *testing.T) {
	account := &Account{Username: "alice", UID: 1000, GID: 1000, Home: "/home/alice"}
	env := EnvironmentFor(account, map[string]string{"DISPLAY": ":7", "PASSWORD": "should-not-appear-as-password-key-literally"})

	foundHome := false
	for _, entry := range env {
		if entry == "HOME=/home/alice" {
			foundHome = true
		}
	}
	if !foundHome {
		t.Error("expected HOME to be set from account")
	}
}
