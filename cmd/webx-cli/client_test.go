// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLGrenoble/webx-router/internal/routerclient"
)

func TestHostOf(t *testing.T) {
	host, err := hostOf("tcp://127.0.0.1:5555")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	host, err = hostOf("tcp://router.example.com:5555")
	require.NoError(t, err)
	assert.Equal(t, "router.example.com", host)

	_, err = hostOf("http://127.0.0.1:5555")
	assert.Error(t, err)
}

func TestExitCodeForResponse(t *testing.T) {
	cases := []struct {
		code int
		want int
	}{
		{0, 0},
		{1, 1}, // bad request
		{2, 2}, // auth failed
		{3, 1}, // creation failed
		{4, 1}, // not found
		{5, 2}, // forbidden
		{6, 3}, // timeout
	}
	for _, c := range cases {
		got := exitCodeForResponse(&routerclient.Response{Code: c.code})
		assert.Equalf(t, c.want, got, "response code %d", c.code)
	}
}
