// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements three of the router's four external-facing
// sockets: the Connector (§4.I), Instruction Forwarder (§4.G), and
// Message Collector (§4.H). The Session Proxy (§4.F) lives in
// internal/sessionproxy since it owns the session-creation state machine
// rather than being a pure forwarder.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// Ports mirrors §6's default TCP port map, advertised verbatim by the
// Connector.
type Ports struct {
	Connector int `json:"connector"`
	Publisher int `json:"publisher"`
	Collector int `json:"collector"`
	Session   int `json:"session"`
}

// connectorResponse is the JSON document the Connector answers with
// (§4.I).
type connectorResponse struct {
	Ports     Ports  `json:"ports"`
	PublicKey string `json:"publicKey"`
}

// Connector answers unauthenticated requests for the port map and the
// router's public CURVE key (§4.I: "No authentication; answers every
// well-formed request").
type Connector struct {
	ports     Ports
	publicKey string
	logger    *slog.Logger
}

// NewConnector creates a Connector that will advertise ports and
// publicKeyHex once Run is called.
func NewConnector(ports Ports, publicKeyHex string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{ports: ports, publicKey: publicKeyHex, logger: logger}
}

// Run binds a REP socket at addr (e.g. "tcp://*:5555") and serves
// requests until ctx is cancelled (§5: one thread per externally visible
// socket loop).
func (c *Connector) Run(ctx context.Context, addr string) error {
	socket := zmq4.NewRep(ctx)
	defer socket.Close()

	if err := socket.Listen(addr); err != nil {
		return fmt.Errorf("binding connector socket %s: %w", addr, err)
	}

	body, err := json.Marshal(connectorResponse{Ports: c.ports, PublicKey: c.publicKey})
	if err != nil {
		return fmt.Errorf("marshaling connector response: %w", err)
	}

	c.logger.Info("connector listening", "addr", addr)

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, err := socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("connector recv failed", "error", err)
			continue
		}

		if err := socket.Send(zmq4.NewMsg(body)); err != nil {
			c.logger.Warn("connector send failed", "error", err)
		}
	}
}
