// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ILLGrenoble/webx-router/internal/routerclient"
)

func newLogoutCommand(connectorAddr *string) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "logout [session_id]",
		Short: "Tear down a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}

			if sessionID == "" || secret == "" {
				saved, err := loadSession()
				if err != nil {
					return fail(1, "%v", err)
				}
				if sessionID == "" {
					sessionID = saved.SessionID
				}
				if secret == "" {
					secret = saved.Secret
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			client, err := connect(ctx, *connectorAddr)
			if err != nil {
				return fail(1, "connecting to router: %v", err)
			}
			defer client.Close()

			resp, err := client.Do(routerclient.Request{Action: "logout", SessionID: sessionID, Secret: secret})
			if err != nil {
				return fail(1, "%v", err)
			}
			if resp.Code != 0 {
				return fail(exitCodeForResponse(resp), "logout failed: %s", resp.Error)
			}

			fmt.Fprintf(os.Stdout, "session %s logged out\n", sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "session secret (default: read from the saved session file)")
	return cmd
}
