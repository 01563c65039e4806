// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package display implements the Display Supervisor (§4.C): it allocates
// a free display number, spawns the X server and window manager as the
// target user, and watches for the server's listening socket.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"net"
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

// stabilizationWindow is how long after spawning the window manager the
// supervisor waits before declaring the attempt stable (§4.C "tie-breaks
// and policies").
const stabilizationWindow = 500 * time.Millisecond

// Config configures a Supervisor. Sourced from internal/config at
// startup.
type Config struct {
	XorgBinary          string
	XorgConfigPath      string
	SessionsDir         string
	DisplayOffset       int
	WindowManagerScript string
	LogDir              string
	RunAsRoot           bool
	ProbeTimeout        time.Duration

	// IsDisplayClaimed reports whether a display number is already held
	// by a live session in the registry. Injected rather than taking a
	// *registry.Registry directly so Supervisor stays testable without
	// constructing a full registry.
	IsDisplayClaimed func(displayNumber int) bool
}

// Supervisor spawns and supervises X11 display stacks.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Supervisor.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// Result is what StartDisplay hands back to the caller (the session
// creation flow in internal/sessionproxy), which folds it into a
// registry.X11Session.
type Result struct {
	DisplayNumber int
	XauthPath     string
	DisplayHandle *process.Handle
	WMHandle      *process.Handle
}

// StartDisplay allocates a display, spawns the X server as account, waits
// for it to start listening, then spawns the window manager (§4.C).
// extraEnv carries client-requested variables (screen resolution, locale)
// forwarded to the window manager process. onPhase, if non-nil, is called
// as StartDisplay crosses the two sub-phases the caller's pending-creation
// state machine needs to expose to status polls (§4.F): once the X server
// has been spawned and StartDisplay begins waiting for it to accept
// connections, and again once that wait succeeds and the window manager
// is about to be spawned.
func (s *Supervisor) StartDisplay(ctx context.Context, account *pamauth.Account, cfg registry.SessionConfig, extraEnv map[string]string, onPhase func(registry.CreationState)) (*Result, error) {
	displayNumber, err := s.probeFreeDisplay()
	if err != nil {
		return nil, err
	}

	xauthPath, err := s.synthesizeXauth(account, displayNumber)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindDisplay, "creating xauthority file", err)
	}

	displayHandle, err := s.spawnXServer(account, displayNumber, xauthPath)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindDisplay, "spawning X server", err)
	}

	if onPhase != nil {
		onPhase(registry.StateWaitingForDisplayReady)
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	if err := displayHandle.WaitReady(probeCtx, probeDisplaySocket(displayNumber)); err != nil {
		displayHandle.Stop(process.DefaultGracePeriod)
		return nil, routererr.Wrap(routererr.KindDisplay, fmt.Sprintf("display :%d never accepted connections", displayNumber), err)
	}

	if onPhase != nil {
		onPhase(registry.StateSpawningWM)
	}

	wmHandle, err := s.spawnWindowManager(account, displayNumber, xauthPath, cfg, extraEnv)
	if err != nil {
		displayHandle.Stop(process.DefaultGracePeriod)
		return nil, routererr.Wrap(routererr.KindWindowManager, "spawning window manager", err)
	}

	time.Sleep(stabilizationWindow)
	if !wmHandle.IsRunning() {
		wmHandle.Stop(process.DefaultGracePeriod)
		displayHandle.Stop(process.DefaultGracePeriod)
		return nil, routererr.New(routererr.KindWindowManager, "window manager exited during stabilization window")
	}

	return &Result{
		DisplayNumber: displayNumber,
		XauthPath:     xauthPath,
		DisplayHandle: displayHandle,
		WMHandle:      wmHandle,
	}, nil
}

// probeFreeDisplay linearly probes display numbers starting at the
// configured offset, skipping any already claimed by a live session or
// whose lock file exists (§4.C step 1, §9 "display number exhaustion").
func (s *Supervisor) probeFreeDisplay() (int, error) {
	const maxProbe = 1024
	for n := s.cfg.DisplayOffset; n < s.cfg.DisplayOffset+maxProbe; n++ {
		if s.cfg.IsDisplayClaimed != nil && s.cfg.IsDisplayClaimed(n) {
			continue
		}
		if lockFileExists(n) {
			continue
		}
		return n, nil
	}
	return 0, routererr.New(routererr.KindDisplay, "no free display number found")
}

func lockFileExists(displayNumber int) bool {
	_, err := os.Stat(fmt.Sprintf("/tmp/.X%d-lock", displayNumber))
	return err == nil
}

// synthesizeXauth creates an XAUTHORITY path under the configured
// sessions directory, owned by the target user (§4.C step 2).
func (s *Supervisor) synthesizeXauth(account *pamauth.Account, displayNumber int) (string, error) {
	if err := os.MkdirAll(s.cfg.SessionsDir, 0755); err != nil {
		return "", fmt.Errorf("creating sessions directory: %w", err)
	}

	path := filepath.Join(s.cfg.SessionsDir, fmt.Sprintf("%s.xauth", account.Username))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("creating xauthority file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("closing xauthority file: %w", err)
	}
	if err := os.Chown(path, int(account.UID), int(account.GID)); err != nil {
		return "", fmt.Errorf("chowning xauthority file: %w", err)
	}

	_ = displayNumber // the xauth cookie itself is installed by xauth(1) via the window manager's session setup; path allocation only is this supervisor's concern.
	return path, nil
}

// spawnXServer spawns the X server as (uid, gid) unless RunAsRoot is set,
// in which case it runs as root while the xauth file is still owned by
// the target user (§4.C step 3).
func (s *Supervisor) spawnXServer(account *pamauth.Account, displayNumber int, xauthPath string) (*process.Handle, error) {
	args := []string{
		fmt.Sprintf(":%d", displayNumber),
		"-auth", xauthPath,
		"-config", s.cfg.XorgConfigPath,
		"-nolisten", "tcp",
	}
	cmd := exec.Command(s.cfg.XorgBinary, args...)
	if !s.cfg.RunAsRoot {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: account.UID, Gid: account.GID},
		}
	}
	cmd.Env = pamauth.EnvironmentFor(account, map[string]string{"XAUTHORITY": xauthPath})

	logFile, err := s.openLog(account.Username, "xorg")
	if err != nil {
		return nil, err
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	return process.Start(cmd)
}

// spawnWindowManager spawns the configured window manager script as the
// target user with DISPLAY/XAUTHORITY set and a sanitized PATH (§4.C
// step 5).
func (s *Supervisor) spawnWindowManager(account *pamauth.Account, displayNumber int, xauthPath string, cfg registry.SessionConfig, extraEnv map[string]string) (*process.Handle, error) {
	cmd := exec.Command(s.cfg.WindowManagerScript)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: account.UID, Gid: account.GID},
	}

	env := pamauth.EnvironmentFor(account, map[string]string{
		"DISPLAY":         fmt.Sprintf(":%d", displayNumber),
		"XAUTHORITY":      xauthPath,
		"WEBX_SCREEN_W":   fmt.Sprintf("%d", cfg.ScreenWidth),
		"WEBX_SCREEN_H":   fmt.Sprintf("%d", cfg.ScreenHeight),
		"WEBX_KEYBOARD":   cfg.KeyboardLayout,
	})
	for key, value := range extraEnv {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	logFile, err := s.openLog(account.Username, "wm")
	if err != nil {
		return nil, err
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	return process.Start(cmd)
}

func (s *Supervisor) openLog(username, component string) (*os.File, error) {
	if err := os.MkdirAll(s.cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(s.cfg.LogDir, fmt.Sprintf("%s-%s.log", username, component))
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

// probeDisplaySocket returns a ReadyFunc that dials the X server's Unix
// domain socket, the idiomatic stand-in for a full X11 client handshake
// (§4.C step 4, "X11 client probe"): a successful connect means the
// server is listening and accepting connections.
func probeDisplaySocket(displayNumber int) process.ReadyFunc {
	socketPath := fmt.Sprintf("/tmp/.X11-unix/X%d", displayNumber)
	return func(ctx context.Context) (bool, error) {
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "unix", socketPath)
		if err != nil {
			return false, nil
		}
		conn.Close()
		return true, nil
	}
}
