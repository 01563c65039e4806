// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package clicreds manages the local CLI credentials file used by the
// admin-gated list verb and the PAM local-credentials-file bypass (§4.K,
// §9). On first run the CLI generates a random secret and writes it to
// ~/.webx/cli.secret at mode 0600. The CLI's list verb presents that
// secret as its password, and the router's Verifier compares it with the
// same file. The file's presence at mode 0600 also makes internal/pamauth
// use the "su" PAM service for that user; the file's contents play no
// part in that PAM check. This mirrors the original implementation's
// credentials-file split between generation (webx-cli) and verification
// (webx-router).
package clicreds

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

const secretFileName = "cli.secret"

// Path returns the credentials file path under the given home directory.
func Path(home string) string {
	return filepath.Join(home, ".webx", secretFileName)
}

// Ensure returns the CLI secret at home/.webx/cli.secret, generating and
// persisting a new random one at mode 0600 if it does not already exist.
func Ensure(home string) (string, error) {
	path := Path(home)

	existing, err := os.ReadFile(path)
	if err == nil {
		return string(existing), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading cli credentials file: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating cli credentials directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return "", fmt.Errorf("writing cli credentials file: %w", err)
	}

	return secret, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating cli credentials secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Verifier checks a (username, password) pair presented over the wire
// against that username's own credentials file, used to admin-gate
// the Session Proxy's list verb (§9 Open Question).
type Verifier struct {
	homeForUser func(username string) (string, error)
}

// NewVerifier creates a Verifier using homeForUser to resolve a
// username's home directory (injected so it can be replaced in tests
// without touching /etc/passwd).
func NewVerifier(homeForUser func(username string) (string, error)) *Verifier {
	return &Verifier{homeForUser: homeForUser}
}

// Verify reports whether password matches the credentials file for
// username. A missing file or any I/O error is treated as a mismatch,
// never as an error the caller must special-case.
func (v *Verifier) Verify(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	home, err := v.homeForUser(username)
	if err != nil {
		return false
	}
	stored, err := os.ReadFile(Path(home))
	if err != nil {
		return false
	}
	return secretbuf.Equal(string(stored), password)
}
