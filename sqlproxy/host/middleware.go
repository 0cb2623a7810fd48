package host

import (
	"log/slog"
	"net/http"
	"time"
)

// Middleware wraps a handler.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// LogRequests logs one line per request once the handler returns.
func LogRequests(logger *slog.Logger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("Proxy request",
				"remote", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
			)
		}
	}
}

// RecoverPanics turns a panic in a backend into a 500 response.
func RecoverPanics(logger *slog.Logger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("Panic while handling proxy request", "panic", v)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		}
	}
}

// Chain applies middleware in order, so the last one runs first.
func Chain(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}
