// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ILLGrenoble/webx-router/internal/clicreds"
	"github.com/ILLGrenoble/webx-router/internal/routerclient"
)

func newListCommand(connectorAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every live session on the router (requires local CLI credentials)",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := user.Current()
			if err != nil {
				return fail(1, "resolving current user: %v", err)
			}
			secret, err := clicreds.Ensure(u.HomeDir)
			if err != nil {
				return fail(1, "%v", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			client, err := connect(ctx, *connectorAddr)
			if err != nil {
				return fail(1, "connecting to router: %v", err)
			}
			defer client.Close()

			resp, err := client.Do(routerclient.Request{Action: "list", Username: u.Username, Password: secret})
			if err != nil {
				return fail(1, "%v", err)
			}
			if resp.Code != 0 {
				return fail(exitCodeForResponse(resp), "list failed: %s", resp.Error)
			}

			if len(resp.Sessions) == 0 {
				fmt.Fprintln(os.Stdout, "no live sessions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tUSERNAME\tCREATED AT")
			for _, s := range resp.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.SessionID, s.Username, s.CreatedAt)
			}
			return w.Flush()
		},
	}
	return cmd
}
