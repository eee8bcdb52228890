// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServer_MetricsEndpointNoAuth(t *testing.T) {
	m := NewManager()
	s := NewServer(m, "127.0.0.1", 0, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "kitsune_link_conflicts_open")
}

func TestServer_UnknownPathIs404(t *testing.T) {
	m := NewManager()
	s := NewServer(m, "127.0.0.1", 0, "")

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BasicAuthRequired(t *testing.T) {
	m := NewManager()
	s := NewServer(m, "127.0.0.1", 0, "admin:secret")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParseBasicAuthUsers_SkipsMalformedEntries(t *testing.T) {
	users := parseBasicAuthUsers("admin:secret, , malformed, ops:hunter2")
	require.Equal(t, map[string]string{"admin": "secret", "ops": "hunter2"}, users)
}
