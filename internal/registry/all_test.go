// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_ReturnsEveryLiveSession(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Insert(&X11Session{SessionID: "s1", Username: "alice", DisplayNumber: 60}))
	require.NoError(t, r.Insert(&X11Session{SessionID: "s2", Username: "bob", DisplayNumber: 61}))

	sessions := r.All()
	assert.Len(t, sessions, 2)

	byID := make(map[string]*X11Session, len(sessions))
	for _, s := range sessions {
		byID[s.SessionID] = s
	}
	assert.Contains(t, byID, "s1")
	assert.Contains(t, byID, "s2")
	assert.Equal(t, "alice", byID["s1"].Username)
}

func TestAll_EmptyRegistry(t *testing.T) {
	r := New(nil)
	assert.Empty(t, r.All())
}
