// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/go-zeromq/zmq4"

	"github.com/ILLGrenoble/webx-router/internal/keys"
)

// NewSecureSub creates a SUB socket configured as a CURVE server using
// the router's long-lived keypair.
func NewSecureSub(ctx context.Context, keypair *keys.Keypair) (zmq4.Socket, error) {
	sec, err := keypair.ServerSecurity()
	if err != nil {
		return nil, err
	}
	return zmq4.NewSub(ctx, zmq4.WithSecurity(sec)), nil
}

// NewSecurePub creates a PUB socket configured as a CURVE server using
// the router's long-lived keypair.
func NewSecurePub(ctx context.Context, keypair *keys.Keypair) (zmq4.Socket, error) {
	sec, err := keypair.ServerSecurity()
	if err != nil {
		return nil, err
	}
	return zmq4.NewPub(ctx, zmq4.WithSecurity(sec)), nil
}
