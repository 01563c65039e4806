// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Webx-router is the per-host multiplexer fronting a machine's remote
// desktop render engines. It authenticates session requests over PAM,
// supervises per-user X server / window manager / engine process trees,
// and relays instructions and messages between engines and their remote
// clients over CURVE-encrypted ZeroMQ sockets.
//
// On startup it:
//  1. Loads configuration from a YAML file, the WEBX_ROUTER_ environment,
//     and command-line flags (in increasing precedence).
//  2. Generates the router's long-lived CURVE keypair.
//  3. Binds the Connector, Session Proxy, Instruction Forwarder, and
//     Message Collector sockets.
//  4. Runs a periodic registry reconciliation sweep.
//  5. Drains every live session on SIGINT/SIGTERM/SIGQUIT within a
//     bounded grace period, exiting immediately on a second signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ILLGrenoble/webx-router/internal/clicreds"
	"github.com/ILLGrenoble/webx-router/internal/config"
	"github.com/ILLGrenoble/webx-router/internal/display"
	"github.com/ILLGrenoble/webx-router/internal/engine"
	"github.com/ILLGrenoble/webx-router/internal/keys"
	"github.com/ILLGrenoble/webx-router/internal/pamauth"
	"github.com/ILLGrenoble/webx-router/internal/registry"
	"github.com/ILLGrenoble/webx-router/internal/sessionproxy"
	"github.com/ILLGrenoble/webx-router/internal/shutdown"
	"github.com/ILLGrenoble/webx-router/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("webx-router", pflag.ExitOnError)
	v := viper.New()
	config.BindFlags(flags, v)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	keypair, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("generating router keypair: %w", err)
	}
	defer keypair.Close()
	logger.Info("router keypair generated", "public_key", keypair.PublicKeyHex)

	reg := registry.New(logger)

	displaySup := display.New(display.Config{
		XorgBinary:          cfg.Xorg.Binary,
		XorgConfigPath:      cfg.Xorg.ConfigPath,
		SessionsDir:         cfg.SessionsDir,
		DisplayOffset:       cfg.Xorg.DisplayOffset,
		WindowManagerScript: cfg.Xorg.WindowManagerScript,
		LogDir:              cfg.LogDir,
		RunAsRoot:           cfg.Xorg.RunAsRoot,
		IsDisplayClaimed:    reg.IsDisplayInUse,
	}, logger)

	engineSup := engine.New(engine.Config{
		BinaryPath:       cfg.Engine.BinaryPath,
		LogDir:           cfg.LogDir,
		ConnectorRoot:    cfg.Engine.ConnectorRoot,
		RetryBaseDelay:   cfg.Engine.RetryBaseDelay,
		MessageProxyAddr: cfg.Engine.MessageProxyAddr,
		InstructionProxy: cfg.Engine.InstructionProxyAddr,
	}, logger)

	proxy := sessionproxy.New(sessionproxy.Config{
		Registry:   reg,
		Auth:       pamauth.New(cfg.PamService),
		DisplaySup: displaySup,
		EngineSup:  engineSup,
		Verifier:   clicreds.NewVerifier(homeForUser),
		Keypair:    keypair,
	}, logger)

	controller := shutdown.New(reg.DrainAll, reg.KillAllNow, cfg.DrainGrace, cfg.DrainTimeout, logger)
	ctx := controller.Run(context.Background())

	var wg sync.WaitGroup
	serve := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("component exited with error", "component", name, "error", err)
			}
		}()
	}

	connector := transport.NewConnector(transport.Ports{
		Connector: cfg.Ports.Connector,
		Publisher: cfg.Ports.Publisher,
		Collector: cfg.Ports.Collector,
		Session:   cfg.Ports.Session,
	}, keypair.PublicKeyHex, logger)
	serve("connector", func(ctx context.Context) error {
		return connector.Run(ctx, fmt.Sprintf("tcp://*:%d", cfg.Ports.Connector))
	})

	serve("session-proxy", func(ctx context.Context) error {
		return proxy.Run(ctx, fmt.Sprintf("tcp://*:%d", cfg.Ports.Session))
	})

	instructionForwarder := transport.NewInstructionForwarder(logger)
	serve("instruction-forwarder", func(ctx context.Context) error {
		sub, err := transport.NewSecureSub(ctx, keypair)
		if err != nil {
			return err
		}
		pub := zmq4.NewPub(ctx)
		return instructionForwarder.Run(ctx, sub, pub, fmt.Sprintf("tcp://*:%d", cfg.Ports.Publisher), cfg.Engine.InstructionProxyAddr)
	})

	messageCollector := transport.NewMessageCollector(logger)
	serve("message-collector", func(ctx context.Context) error {
		sub := zmq4.NewSub(ctx)
		pub, err := transport.NewSecurePub(ctx, keypair)
		if err != nil {
			return err
		}
		return messageCollector.Run(ctx, sub, pub, cfg.Engine.MessageProxyAddr, fmt.Sprintf("tcp://*:%d", cfg.Ports.Collector))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconcileLoop(ctx, reg, cfg.DrainGrace, cfg.ReconcileEvery, logger)
	}()

	<-controller.Done()
	wg.Wait()
	logger.Info("webx-router stopped")
	return nil
}

// reconcileLoop periodically removes sessions whose display server or
// window manager has exited (§4.E "reaper thread").
func reconcileLoop(ctx context.Context, reg *registry.Registry, gracePeriod, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Reconcile(gracePeriod)
		}
	}
}

// homeForUser resolves a username's home directory for the CLI
// credentials-file verifier, kept in main rather than internal/clicreds
// so that package stays free of an os/user dependency it would
// otherwise only need for this one lookup.
func homeForUser(username string) (string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}
