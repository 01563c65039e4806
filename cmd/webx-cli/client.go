// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"github.com/ILLGrenoble/webx-router/internal/routerclient"
	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

// connect fetches the router's port map and public key from the
// Connector at connectorAddr and dials the Session Proxy with it.
func connect(ctx context.Context, connectorAddr string) (*routerclient.Client, error) {
	info, err := routerclient.FetchConnectorInfo(ctx, connectorAddr)
	if err != nil {
		return nil, err
	}

	host, err := hostOf(connectorAddr)
	if err != nil {
		return nil, err
	}
	sessionAddr := fmt.Sprintf("tcp://%s:%d", host, info.Ports.Session)

	return routerclient.Dial(ctx, sessionAddr, info.PublicKey)
}

// hostOf strips the scheme and port from a "tcp://host:port" address,
// since the Connector only tells us the Session Proxy's port — the host
// is always the one the caller already dialed the Connector on.
func hostOf(addr string) (string, error) {
	const prefix = "tcp://"
	if len(addr) <= len(prefix) || addr[:len(prefix)] != prefix {
		return "", fmt.Errorf("unsupported connector address %q (expected tcp://host:port)", addr)
	}
	rest := addr[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i], nil
		}
	}
	return rest, nil
}

// promptPassword reads a password from the terminal with echo disabled,
// grounded on the teacher's interactive login prompt.
func promptPassword(prompt string) (*secretbuf.Buffer, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal available for interactive password prompt")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	buf, err := secretbuf.NewFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// exitCodeForResponse maps a Session Proxy response code to the CLI's
// exit code: 0 success, 1 generic failure, 2 auth failure, 3 timeout.
func exitCodeForResponse(resp *routerclient.Response) int {
	switch resp.Code {
	case 0:
		return 0
	case 2, 5: // auth failed, forbidden
		return 2
	case 6: // timeout
		return 3
	default: // bad request, creation failed, not found
		return 1
	}
}

func fail(code int, format string, args ...any) error {
	return &exitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// savedSession is the local record of the most recently created session,
// used so "webx-cli logout" can be run without repeating the session id
// and secret on the command line.
type savedSession struct {
	SessionID string `json:"session_id"`
	Secret    string `json:"secret"`
	CreatedAt string `json:"created_at"`
}

func savedSessionPath() (string, error) {
	if envPath := os.Getenv("WEBX_CLI_SESSION_FILE"); envPath != "" {
		return envPath, nil
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "webx-cli", "session.json"), nil
}

func saveSession(s savedSession) error {
	path, err := savedSessionPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func loadSession() (*savedSession, error) {
	path, err := savedSessionPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no saved session at %s — pass <session_id> explicitly or run \"webx-cli create\" first", path)
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}
	return &s, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
