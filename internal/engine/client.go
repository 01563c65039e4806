// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// pingPayload and pongPayload are the single-frame liveness exchange on
// the per-engine reply socket (§4.D, §4.F ping verb).
var (
	pingPayload = []byte("ping")
	pongPayload = []byte("pong")
)

// Client wraps the per-engine REQ socket. A socket is opened once and
// kept for the engine's lifetime; per §9, a send/recv failure discards
// and reopens it rather than tearing the session down — engine sockets
// may be created before the engine's REP side is bound, so transient
// dial/send failures are expected during startup.
type Client struct {
	mu         sync.Mutex
	socketPath string
	socket     zmq4.Socket
}

// NewClient opens (or lazily prepares to open) the REQ socket connected
// to the engine's per-session reply socket.
func NewClient(socketPath string) (*Client, error) {
	c := &Client{socketPath: socketPath}
	if err := c.ensureConnected(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.socket != nil {
		return nil
	}
	socket := zmq4.NewReq(ctx)
	if err := socket.Dial("ipc://" + c.socketPath); err != nil {
		socket.Close()
		return fmt.Errorf("dialing engine socket %s: %w", c.socketPath, err)
	}
	c.socket = socket
	return nil
}

// Ping sends a liveness probe and waits for the engine's reply. On any
// transport failure the socket is discarded and will be rebuilt on the
// next call (§7, §9).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, pingPayload)
	return err
}

// Request sends an opaque payload to the engine and returns its reply.
func (c *Client) Request(ctx context.Context, payload []byte) ([]byte, error) {
	return c.request(ctx, payload)
}

func (c *Client) request(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if err := c.socket.Send(zmq4.NewMsg(payload)); err != nil {
		c.discard()
		return nil, fmt.Errorf("sending to engine: %w", err)
	}

	reply, err := c.socket.Recv()
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("receiving from engine: %w", err)
	}

	return reply.Bytes(), nil
}

// discard closes and forgets the current socket so the next request
// rebuilds it from scratch. Must be called with mu held.
func (c *Client) discard() {
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
}

// Close releases the socket permanently. Called when the owning
// EngineSession is torn down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discard()
	return nil
}
