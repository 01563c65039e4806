// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import "testing"

func TestRandomHex128_Length(t *testing.T) {
	value, err := RandomHex128()
	if err != nil {
		t.Fatalf("RandomHex128 failed: %v", err)
	}
	if len(value) != 32 {
		t.Fatalf("expected 32 hex chars (128 bits), got %d: %q", len(value), value)
	}
}

func TestRandomHex128_Distinct(t *testing.T) {
	first, err := RandomHex128()
	if err != nil {
		t.Fatalf("RandomHex128 failed: %v", err)
	}
	second, err := RandomHex128()
	if err != nil {
		t.Fatalf("RandomHex128 failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected independent draws to differ, got %q twice", first)
	}
}

func TestGenerate_ProducesUsableKeypair(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer pair.Close()

	if len(pair.PublicKeyHex) != 64 {
		t.Errorf("expected 64 hex chars (32 bytes), got %d", len(pair.PublicKeyHex))
	}
	if pair.PrivateKey.Len() != 64 {
		t.Errorf("expected private key hex length 64, got %d", pair.PrivateKey.Len())
	}
}
