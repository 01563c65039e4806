// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Webx-cli is the operator-facing client for a running webx-router
// daemon. It authenticates through the Connector/Session Proxy pair over
// CURVE-encrypted ZeroMQ, following the create/list/logout verbs defined
// by the Session Proxy's wire protocol (§6, §4.K).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.Code != 0 {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			return exitErr.Code
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// exitError carries a wire-protocol-derived exit code (0/1/2/3) out of a
// command's RunE without cobra appending its own "Error: " prefix to a
// message the command already formatted.
type exitError struct {
	Code    int
	Message string
}

func (e *exitError) Error() string { return e.Message }

func newRootCommand() *cobra.Command {
	var connectorAddr string

	root := &cobra.Command{
		Use:           "webx-cli",
		Short:         "Client for a webx-router daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&connectorAddr, "connector", "tcp://127.0.0.1:5555", "address of the router's Connector socket")

	root.AddCommand(newCreateCommand(&connectorAddr))
	root.AddCommand(newListCommand(&connectorAddr))
	root.AddCommand(newLogoutCommand(&connectorAddr))
	return root
}
