// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the Engine Supervisor (§4.D): spawns the
// render-engine child for an X11 session with the environment it expects,
// confirms liveness over its per-engine reply socket with retry/backoff,
// and owns that socket for the engine's lifetime, rebuilding it on
// transport failure rather than tearing the session down (§7, §9).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ILLGrenoble/webx-router/internal/pamauth"
	"github.com/ILLGrenoble/webx-router/internal/process"
	"github.com/ILLGrenoble/webx-router/internal/registry"
	"github.com/ILLGrenoble/webx-router/internal/routererr"
)

// livenessRetries is how many ping attempts are made after spawn before
// giving up (§4.D: "retries up to 3 times with backoff").
const livenessRetries = 3

// Config configures a Supervisor.
type Config struct {
	BinaryPath       string
	LogDir           string
	ConnectorRoot    string // per-engine connector socket path prefix: "<root>-<session_id>.ipc"
	MessageProxyAddr string
	InstructionProxy string
	RetryBaseDelay   time.Duration
}

// Supervisor spawns and supervises engine processes.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Supervisor.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// StartEngine spawns the engine binary as the session's owning user and
// confirms it is alive over its dedicated reply socket before returning
// (§4.D).
func (s *Supervisor) StartEngine(ctx context.Context, session *registry.X11Session, account *pamauth.Account) (*registry.EngineSession, *Client, error) {
	socketPath := fmt.Sprintf("%s-%s.ipc", s.cfg.ConnectorRoot, session.SessionID)

	client, err := NewClient(socketPath)
	if err != nil {
		return nil, nil, routererr.Wrap(routererr.KindEngine, "opening engine reply socket", err)
	}

	handle, logPath, err := s.spawn(session, account, socketPath)
	if err != nil {
		client.Close()
		return nil, nil, routererr.Wrap(routererr.KindEngine, "spawning engine", err)
	}

	if err := s.confirmLiveness(ctx, client, handle); err != nil {
		handle.Stop(process.DefaultGracePeriod)
		client.Close()
		return nil, nil, err
	}

	return &registry.EngineSession{
		SessionID:         session.SessionID,
		Secret:            session.Secret,
		EngineHandle:      handle,
		RequestSocketPath: socketPath,
		LogPath:           logPath,
	}, client, nil
}

func (s *Supervisor) spawn(session *registry.X11Session, account *pamauth.Account, socketPath string) (*process.Handle, string, error) {
	cmd := exec.Command(s.cfg.BinaryPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: account.UID, Gid: account.GID},
	}

	env := pamauth.EnvironmentFor(account, map[string]string{
		"DISPLAY":                           fmt.Sprintf(":%d", session.DisplayNumber),
		"XAUTHORITY":                        session.XauthPath,
		"WEBX_ENGINE_SESSION_ID":            session.SessionID,
		"WEBX_ENGINE_IPC_MESSAGE_PROXY":     s.cfg.MessageProxyAddr,
		"WEBX_ENGINE_IPC_INSTRUCTION_PROXY": s.cfg.InstructionProxy,
		"WEBX_ENGINE_IPC_CONNECTOR":         socketPath,
		"WEBX_ENGINE_KEYBOARD_LAYOUT":       session.Config.KeyboardLayout,
	})
	for key, value := range sanitizedParams(session.Config.EngineParams) {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	if err := os.MkdirAll(s.cfg.LogDir, 0755); err != nil {
		return nil, "", fmt.Errorf("creating engine log directory: %w", err)
	}
	logPath := filepath.Join(s.cfg.LogDir, fmt.Sprintf("%s.log", session.SessionID))
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("opening engine log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	handle, err := process.Start(cmd)
	if err != nil {
		return nil, "", err
	}
	return handle, logPath, nil
}

// confirmLiveness pings the engine's reply socket up to livenessRetries
// times with backoff; persistent failure is an EngineError and no
// EngineSession is registered (§4.D, §8).
func (s *Supervisor) confirmLiveness(ctx context.Context, client *Client, handle *process.Handle) error {
	var lastErr error
	for attempt := 0; attempt < livenessRetries; attempt++ {
		if !handle.IsRunning() {
			return routererr.New(routererr.KindEngine, "engine process exited before becoming responsive")
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return routererr.Wrap(routererr.KindTimeout, "waiting for engine liveness", ctx.Err())
		case <-time.After(s.cfg.RetryBaseDelay * time.Duration(1<<attempt)):
		}
	}
	return routererr.Wrap(routererr.KindEngine, "engine did not respond after retries", lastErr)
}

// sanitizedParams filters client-supplied extra engine parameters,
// rejecting shell metacharacters and bounding count/length (§4.D).
func sanitizedParams(params map[string]string) map[string]string {
	const maxParams = 16
	const maxLen = 256

	out := make(map[string]string, len(params))
	count := 0
	for key, value := range params {
		if count >= maxParams {
			break
		}
		if !isSafeEnvToken(key) || !isSafeEnvToken(value) || len(value) > maxLen {
			continue
		}
		out[key] = value
		count++
	}
	return out
}

func isSafeEnvToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}
