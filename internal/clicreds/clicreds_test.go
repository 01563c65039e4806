// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package clicreds

import (
	"fmt"
	"os"
	"testing"
)

func TestEnsure_GeneratesAndPersists(t *testing.T) {
	home := t.TempDir()

	first, err := Ensure(home)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("secret length = %d, want 64 hex chars", len(first))
	}

	info, err := os.Stat(Path(home))
	if err != nil {
		t.Fatalf("stat credentials file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %o, want 0600", info.Mode().Perm())
	}

	second, err := Ensure(home)
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if second != first {
		t.Error("Ensure should return the same secret on subsequent calls")
	}
}

func TestVerifier_MatchesStoredSecret(t *testing.T) {
	home := t.TempDir()
	secret, err := Ensure(home)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	v := NewVerifier(func(username string) (string, error) {
		if username != "alice" {
			return "", fmt.Errorf("unknown user %q", username)
		}
		return home, nil
	})

	if !v.Verify("alice", secret) {
		t.Error("Verify should accept the stored secret")
	}
	if v.Verify("alice", "wrong") {
		t.Error("Verify should reject a wrong secret")
	}
	if v.Verify("bob", secret) {
		t.Error("Verify should reject an unresolvable username")
	}
}

func TestVerifier_RejectsEmptyCredentials(t *testing.T) {
	v := NewVerifier(func(username string) (string, error) { return "", nil })
	if v.Verify("", "x") || v.Verify("alice", "") {
		t.Error("Verify should reject empty username or password without consulting homeForUser")
	}
}
