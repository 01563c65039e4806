// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// Relay republishes every frame it receives on one socket, unchanged, on
// another — the shape shared by the Instruction Forwarder (§4.G) and
// Message Collector (§4.H). It never parses payloads: the first frame of
// every message is the session secret used as a routing prefix, and the
// relay treats the whole multi-frame sequence as opaque bytes (§6).
type Relay struct {
	name   string
	logger *slog.Logger
}

func newRelay(name string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{name: name, logger: logger}
}

// run reads multi-frame messages from in and republishes them verbatim
// on out until ctx is cancelled. Backpressure is left to the sockets'
// default high-water-mark behaviour: neither the relay nor the code that
// creates its sockets sets a high-water-mark option (§4.G
// "Backpressure").
func (r *Relay) run(ctx context.Context, in, out zmq4.Socket) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := in.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("relay recv failed", "relay", r.name, "error", err)
			continue
		}

		if err := out.Send(msg); err != nil {
			r.logger.Warn("relay send failed", "relay", r.name, "error", err)
		}
	}
}

// InstructionForwarder is the Instruction Forwarder (§4.G): subscribes to
// the external (CURVE-encrypted) instruction stream from the relay and
// republishes on a local IPC publish socket that engines subscribe to,
// filtered by their own secret.
type InstructionForwarder struct {
	relay *Relay
}

// NewInstructionForwarder creates an InstructionForwarder.
func NewInstructionForwarder(logger *slog.Logger) *InstructionForwarder {
	return &InstructionForwarder{relay: newRelay("instruction-forwarder", logger)}
}

// Run binds subAddr (external SUB, CURVE security already configured on
// the socket passed in via security) and pubAddr (local IPC PUB), then
// relays until ctx is cancelled.
func (f *InstructionForwarder) Run(ctx context.Context, sub, pub zmq4.Socket, subAddr, pubAddr string) error {
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribing to all prefixes: %w", err)
	}
	if err := sub.Listen(subAddr); err != nil {
		return fmt.Errorf("binding instruction subscribe socket %s: %w", subAddr, err)
	}
	if err := pub.Listen(pubAddr); err != nil {
		return fmt.Errorf("binding instruction publish socket %s: %w", pubAddr, err)
	}
	defer sub.Close()
	defer pub.Close()

	return f.relay.run(ctx, sub, pub)
}

// MessageCollector is the Message Collector (§4.H): the mirror image of
// InstructionForwarder — binds a local subscribe socket (all engines,
// subscribing to every prefix) and an external publish socket the relay
// reads from, filtering by secret client-side.
type MessageCollector struct {
	relay *Relay
}

// NewMessageCollector creates a MessageCollector.
func NewMessageCollector(logger *slog.Logger) *MessageCollector {
	return &MessageCollector{relay: newRelay("message-collector", logger)}
}

// Run binds subAddr (local IPC SUB) and pubAddr (external PUB), then
// relays until ctx is cancelled.
func (c *MessageCollector) Run(ctx context.Context, sub, pub zmq4.Socket, subAddr, pubAddr string) error {
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribing to all prefixes: %w", err)
	}
	if err := sub.Listen(subAddr); err != nil {
		return fmt.Errorf("binding message subscribe socket %s: %w", subAddr, err)
	}
	if err := pub.Listen(pubAddr); err != nil {
		return fmt.Errorf("binding message publish socket %s: %w", pubAddr, err)
	}
	defer sub.Close()
	defer pub.Close()

	return c.relay.run(ctx, sub, pub)
}
