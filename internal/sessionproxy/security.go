// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package sessionproxy

import (
	"context"

	"github.com/go-zeromq/zmq4"

	"github.com/ILLGrenoble/webx-router/internal/keys"
)

// newSecureRouter creates a ROUTER socket configured as a CURVE server
// using the router's long-lived keypair (§6: "session proxy socket is
// CURVE-encrypted"). Any client dialing addr must know the router's
// public key; the router accepts connections from any client keypair
// since session-level authorization is the wire protocol's job, not the
// transport's.
func newSecureRouter(ctx context.Context, keypair *keys.Keypair) (zmq4.Socket, error) {
	sec, err := keypair.ServerSecurity()
	if err != nil {
		return nil, err
	}
	return zmq4.NewRouter(ctx, zmq4.WithSecurity(sec)), nil
}
