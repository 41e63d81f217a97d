// SPDX-License-Identifier: ice License 1.0

package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	require.True(t, isWebSocketUpgrade(req))
}

func TestIsWebSocketUpgrade_PlainRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/nostr+json")
	require.False(t, isWebSocketUpgrade(req))
}

func TestIsWebSocketUpgrade_ConnectionHeaderWithMultipleTokens(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	require.True(t, isWebSocketUpgrade(req))
}
