// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server wraps an http.Server bound to the router built by NewRouter,
// grounded on the same listen/shutdown shape autobrr-qui's cmd entrypoint
// uses for its own API server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server listening on host:port and serving the
// router built from deps.
func NewServer(host string, port int, deps *Dependencies) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Addr reports the listen address the server was configured with.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe blocks serving HTTP until the server is shut down; a
// clean Shutdown is reported as nil, matching net/http's convention.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
