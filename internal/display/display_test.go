// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ILLGrenoble/webx-router/internal/pamauth"
)

func currentAccount(t *testing.T) *pamauth.Account {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user: %v", err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		t.Skipf("cannot parse uid: %v", err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		t.Skipf("cannot parse gid: %v", err)
	}
	return &pamauth.Account{Username: u.Username, Home: u.HomeDir, UID: uint32(uid), GID: uint32(gid)}
}

func TestProbeFreeDisplay_SkipsClaimedNumbers(t *testing.T) {
	claimed := map[int]bool{100: true, 101: true}
	sup := New(Config{
		DisplayOffset: 100,
		IsDisplayClaimed: func(n int) bool {
			return claimed[n]
		},
	}, nil)

	n, err := sup.probeFreeDisplay()
	if err != nil {
		t.Fatalf("probeFreeDisplay failed: %v", err)
	}
	if n != 102 {
		t.Errorf("expected first free display to be 102, got %d", n)
	}
}

func TestProbeFreeDisplay_SkipsLockFile(t *testing.T) {
	// Use an offset far from any real display to avoid colliding with a
	// live X server on the test machine, and fake a lock file for the
	// first candidate.
	offset := 5900
	lockPath := "/tmp/.X5900-lock"
	if err := os.WriteFile(lockPath, []byte("1"), 0644); err == nil {
		defer os.Remove(lockPath)
	} else {
		t.Skipf("cannot create lock file for test: %v", err)
	}

	sup := New(Config{DisplayOffset: offset}, nil)
	n, err := sup.probeFreeDisplay()
	if err != nil {
		t.Fatalf("probeFreeDisplay failed: %v", err)
	}
	if n == offset {
		t.Errorf("expected probe to skip locked display %d, got %d", offset, n)
	}
}

func TestSynthesizeXauth_CreatesFileWithRestrictedMode(t *testing.T) {
	account := currentAccount(t)
	sessionsDir := t.TempDir()

	sup := New(Config{SessionsDir: sessionsDir}, nil)
	path, err := sup.synthesizeXauth(account, 42)
	if err != nil {
		t.Fatalf("synthesizeXauth failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected xauth file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
	if filepath.Dir(path) != sessionsDir {
		t.Errorf("expected xauth file under %q, got %q", sessionsDir, path)
	}
}
