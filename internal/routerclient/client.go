// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package routerclient is webx-cli's client for the Session Proxy's wire
// protocol (§6): it fetches the router's port map and public key from
// the unauthenticated Connector, then issues CURVE-encrypted requests
// against the Session Proxy socket over a REQ socket (the ROUTER on the
// other end treats every REQ peer as one addressable client).
package routerclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/curve"
)

// ConnectorInfo is the Connector's unauthenticated response body (§4.I).
type ConnectorInfo struct {
	Ports struct {
		Connector int `json:"connector"`
		Publisher int `json:"publisher"`
		Collector int `json:"collector"`
		Session   int `json:"session"`
	} `json:"ports"`
	PublicKey string `json:"publicKey"`
}

// FetchConnectorInfo dials the Connector at addr and returns the port
// map and router public key.
func FetchConnectorInfo(ctx context.Context, addr string) (*ConnectorInfo, error) {
	socket := zmq4.NewReq(ctx)
	defer socket.Close()

	if err := socket.Dial(addr); err != nil {
		return nil, fmt.Errorf("dialing connector %s: %w", addr, err)
	}
	if err := socket.Send(zmq4.NewMsg([]byte("hello"))); err != nil {
		return nil, fmt.Errorf("requesting connector info: %w", err)
	}
	reply, err := socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving connector info: %w", err)
	}

	var info ConnectorInfo
	if err := json.Unmarshal(reply.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("decoding connector info: %w", err)
	}
	return &info, nil
}

// Request is the CLI-side wire envelope, matching the Session Proxy's
// {"action": "...", ...} protocol (§6).
type Request struct {
	Action         string            `json:"action"`
	Username       string            `json:"username,omitempty"`
	Password       string            `json:"password,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	KeyboardLayout string            `json:"keyboard_layout,omitempty"`
	EngineParams   map[string]string `json:"engine_params,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Secret         string            `json:"secret,omitempty"`
}

// Response is the CLI-side wire envelope for every reply (§6).
type Response struct {
	Code          int              `json:"code"`
	SessionID     string           `json:"session_id,omitempty"`
	Secret        string           `json:"secret,omitempty"`
	Error         string           `json:"error,omitempty"`
	State         string           `json:"state,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Sessions      []SessionSummary `json:"sessions,omitempty"`
}

// SessionSummary describes one live session, returned by the list verb.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// Client issues requests against the Session Proxy.
type Client struct {
	socket zmq4.Socket
}

// Dial connects to the Session Proxy at addr, authenticating the
// transport with the router's public key so a compromised or spoofed
// endpoint cannot complete the CURVE handshake.
func Dial(ctx context.Context, addr, routerPublicKeyHex string) (*Client, error) {
	clientPublic, clientSecret, err := curve.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating client curve keypair: %w", err)
	}

	var serverPublic [32]byte
	if _, err := decodeHexInto(serverPublic[:], routerPublicKeyHex); err != nil {
		return nil, fmt.Errorf("decoding router public key: %w", err)
	}

	sec := curve.NewClientSecurity(&curve.Client{
		PublicKey:       clientPublic,
		SecretKey:       clientSecret,
		ServerPublicKey: serverPublic,
	})

	socket := zmq4.NewReq(ctx, zmq4.WithSecurity(sec))
	if err := socket.Dial(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("dialing session proxy %s: %w", addr, err)
	}
	return &Client{socket: socket}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.socket.Close()
}

// Do sends req and returns the decoded Response.
func (c *Client) Do(req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := c.socket.Send(zmq4.NewMsg(body)); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	reply, err := c.socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(reply.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func decodeHexInto(dst []byte, s string) (int, error) {
	if len(s) != len(dst)*2 {
		return 0, fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(s))
	}
	for i := range dst {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return 0, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return 0, err
		}
		dst[i] = hi<<4 | lo
	}
	return len(dst), nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex character %q", b)
	}
}
