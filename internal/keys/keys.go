// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys holds the router's long-lived CURVE keypair (§3 "Key
// material"). The pair is generated once at startup; only the public half
// ever leaves the process, advertised by the Connector (§4.I).
//
// Structurally this mirrors the teacher's lib/sealed package: a typed
// Keypair wrapper whose private half lives in a secretbuf.Buffer (mmap-
// backed, locked against swap, zeroed on Close) rather than a plain Go
// string, and a package-level Generate constructor. The cryptography
// itself is CURVE25519 via the transport library's curve security
// package rather than age, because the router's only use for the keypair
// is ZMQ CURVE transport security (§6), not at-rest encryption of bundles.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/curve"

	"github.com/ILLGrenoble/webx-router/internal/secretbuf"
)

// Keypair holds a CURVE25519 keypair for the session proxy's,
// instruction forwarder's and message collector's encrypted sockets. The private key is stored in
// a secretbuf.Buffer.
//
// The caller must call Close when the keypair is no longer needed (which,
// for the router's own long-lived pair, is only at process shutdown).
type Keypair struct {
	// PrivateKey is the raw 32-byte CURVE secret key, hex-encoded and
	// stored in mmap memory outside the Go heap. Never logged, never
	// written to disk, never included in a child process environment.
	PrivateKey *secretbuf.Buffer

	// PublicKeyRaw is the raw 32-byte CURVE public key.
	PublicKeyRaw [32]byte

	// PublicKeyHex is PublicKeyRaw hex-encoded — the form advertised by
	// the Connector (§4.I: "publicKey": "<z85 or hex>").
	PublicKeyHex string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// Generate creates a new CURVE25519 keypair for the router. Fatal failure
// to generate the pair is a startup-abort condition per §7.
func Generate() (*Keypair, error) {
	public, secretRaw, err := curve.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating curve keypair: %w", err)
	}

	secretHex := []byte(hex.EncodeToString(secretRaw[:]))
	// Zero the raw secret array now that it has been copied into the
	// encoded form that will itself be protected by secretbuf.
	for index := range secretRaw {
		secretRaw[index] = 0
	}

	privateKey, err := secretbuf.NewFromBytes(secretHex)
	if err != nil {
		return nil, fmt.Errorf("protecting curve private key: %w", err)
	}

	return &Keypair{
		PrivateKey:   privateKey,
		PublicKeyRaw: public,
		PublicKeyHex: hex.EncodeToString(public[:]),
	}, nil
}

// ServerSecurity builds a CURVE server security handshake from the
// keypair, shared by the Session Proxy, Instruction Forwarder and Message
// Collector sockets; the Connector socket is not encrypted. The router
// accepts connections from any client keypair — session-level authorization happens in the wire
// protocol, not the transport.
func (k *Keypair) ServerSecurity() (zmq4.Security, error) {
	secretRaw, err := hex.DecodeString(k.PrivateKey.String())
	if err != nil {
		return nil, fmt.Errorf("decoding router private key: %w", err)
	}
	if len(secretRaw) != 32 {
		return nil, fmt.Errorf("router private key has unexpected length %d", len(secretRaw))
	}
	var secret [32]byte
	copy(secret[:], secretRaw)

	return curve.NewServerSecurity(&curve.Server{PublicKey: k.PublicKeyRaw, SecretKey: secret}), nil
}

// RandomHex128 generates a 128-bit random value rendered as a 32-character
// lowercase hex string. Used for both session identifiers and session
// secrets (§3) — independent draws, never derived from one another.
func RandomHex128() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random 128-bit value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
