// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package routerclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHexInto(t *testing.T) {
	dst := make([]byte, 4)
	n, err := decodeHexInto(dst, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, dst)
}

func TestDecodeHexInto_WrongLength(t *testing.T) {
	dst := make([]byte, 4)
	_, err := decodeHexInto(dst, "dead")
	assert.Error(t, err)
}

func TestDecodeHexInto_InvalidCharacter(t *testing.T) {
	dst := make([]byte, 4)
	_, err := decodeHexInto(dst, "zzzzzzzz")
	assert.Error(t, err)
}

func TestRequestResponseJSONTags(t *testing.T) {
	// Sanity check that the CLI-side envelope shapes match the Session
	// Proxy's wire.go field names exactly, since the two are maintained
	// as independent copies (sessionproxy's request/response are
	// unexported).
	body, err := json.Marshal(Request{Action: "create", Username: "alice", KeyboardLayout: "fr", SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"create","username":"alice","keyboard_layout":"fr","session_id":"s1"}`, string(body))

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"code":3,"session_id":"s1","correlation_id":"c1"}`), &resp))
	assert.Equal(t, 3, resp.Code)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "c1", resp.CorrelationID)
}
