// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ILLGrenoble/webx-router/internal/routerclient"
)

const pingInterval = 5 * time.Second

func newCreateCommand(connectorAddr *string) *cobra.Command {
	var (
		username       string
		width          int
		height         int
		keyboardLayout string
		daemon         bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Authenticate and create (or reuse) a remote desktop session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				if u, err := user.Current(); err == nil {
					username = u.Username
				}
			}
			if username == "" {
				return fail(1, "--username is required (could not determine current user)")
			}

			password, err := promptPassword(fmt.Sprintf("Password for %s: ", username))
			if err != nil {
				return fail(1, "%v", err)
			}
			defer password.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := connect(ctx, *connectorAddr)
			if err != nil {
				return fail(1, "connecting to router: %v", err)
			}
			defer client.Close()

			resp, err := client.Do(routerclient.Request{
				Action:         "create",
				Username:       username,
				Password:       password.String(),
				Width:          width,
				Height:         height,
				KeyboardLayout: keyboardLayout,
			})
			if err != nil {
				return fail(1, "%v", err)
			}
			if resp.Code != 0 {
				return fail(exitCodeForResponse(resp), "create failed: %s", resp.Error)
			}

			fmt.Fprintf(os.Stdout, "session %s created\n", resp.SessionID)
			if err := saveSession(savedSession{SessionID: resp.SessionID, Secret: resp.Secret, CreatedAt: nowRFC3339()}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not save session locally: %v\n", err)
			}

			if daemon {
				return nil
			}
			return watchSession(cmd.Context(), client, resp.SessionID, resp.Secret)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username to authenticate as (default: current user)")
	cmd.Flags().IntVar(&width, "width", 0, "desired display width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "desired display height in pixels")
	cmd.Flags().StringVar(&keyboardLayout, "keyboard-layout", "", "keyboard layout for the session's X server")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "return immediately instead of pinging the session until interrupted")
	return cmd
}

// watchSession pings the session every pingInterval until SIGINT/SIGTERM,
// so "webx-cli create" in the foreground keeps the session alive the way
// an interactive desktop client would.
func watchSession(parent context.Context, client *routerclient.Client, sessionID, secret string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "interrupted, session left running")
			return nil
		case <-ticker.C:
			resp, err := client.Do(routerclient.Request{Action: "ping", SessionID: sessionID, Secret: secret})
			if err != nil {
				fmt.Fprintf(os.Stderr, "ping failed: %v\n", err)
				continue
			}
			if resp.Code != 0 {
				return fail(exitCodeForResponse(resp), "session %s no longer reachable: %s", sessionID, resp.Error)
			}
		}
	}
}
