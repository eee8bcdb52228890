// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package middleware holds the chi middleware this core adds on top of
// chi's own stack: structured request logging (CORS comes from rs/cors in
// the router), grounded on autobrr-qui/internal/api/router.go's own
// middleware chain.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// HTTPLogger logs one structured line per request at debug level (warn
// for status 400 and above) with method, path, status, bytes, duration and
// request id —
// chi's own middleware.Logger is text-oriented, this mirrors the
// teacher's zerolog-based replacement.
func HTTPLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		dur := time.Since(start)
		evt := log.Debug()
		if ww.Status() >= http.StatusBadRequest {
			evt = log.Warn()
		}
		evt.Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", dur).
			Msg("http request")
	})
}
