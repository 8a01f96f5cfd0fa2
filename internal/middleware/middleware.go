// Package middleware provides the HTTP middleware chain applied to API
// routes: security headers, CORS, request IDs, and per-IP rate limiting.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// Middleware wraps an http.HandlerFunc.
type Middleware func(next http.HandlerFunc) http.HandlerFunc

// Chain composes middlewares so the first argument runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// RequestID attaches a random request id to the response for log
// correlation, keeping a caller-provided one when present.
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				b := make([]byte, 8)
				if _, err := rand.Read(b); err == nil {
					id = hex.EncodeToString(b)
				}
			}
			if id != "" {
				w.Header().Set("X-Request-ID", id)
			}
			next(w, r)
		}
	}
}

// CORS allows cross-origin API access and short-circuits preflight requests.
func CORS() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next(w, r)
		}
	}
}
