// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the Prometheus registry at /metrics, optionally gated
// behind HTTP basic auth when basicAuthUsers is configured.
type Server struct {
	server         *http.Server
	manager        *Manager
	basicAuthUsers map[string]string
}

// NewServer builds a Server bound to host:port. basicAuthUsers is a
// comma-separated "user:pass" list (e.g. "admin:secret,ops:hunter2");
// malformed entries are skipped. An empty string disables auth.
func NewServer(manager *Manager, host string, port int, basicAuthUsers string) *Server {
	users := parseBasicAuthUsers(basicAuthUsers)

	mux := http.NewServeMux()
	handler := promhttp.HandlerFor(manager.Registry(), promhttp.HandlerOpts{})
	if len(users) > 0 {
		handler = BasicAuth("kitsune-metrics", users)(handler)
	}
	mux.Handle("/metrics", handler)

	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: mux,
		},
		manager:        manager,
		basicAuthUsers: users,
	}
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, pass, ok := strings.Cut(entry, ":")
		if !ok || user == "" {
			continue
		}
		users[user] = pass
	}
	return users
}

// BasicAuth gates a handler behind HTTP basic auth against a fixed
// user/password map, using constant-time comparison for both fields.
func BasicAuth(realm string, users map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if ok {
				for user, expected := range users {
					userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(user)) == 1
					passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
					if userMatch && passMatch {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

// Addr reports the listen address the server was configured with.
func (s *Server) Addr() string { return s.server.Addr }

// ListenAndServe blocks serving the metrics endpoint until shut down.
func (s *Server) ListenAndServe() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes the listener immediately without waiting for in-flight
// requests to finish.
func (s *Server) Stop() error {
	return s.server.Close()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
