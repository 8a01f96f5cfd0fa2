// Package router provides centralized API route registration.
// All HTTP routes are registered here, grouped by business domain,
// with appropriate middleware applied to each group.
package router

import (
	"net/http"
	"time"

	"costgrid/internal/handler"
	"costgrid/internal/middleware"
)

// Register registers all API routes to http.DefaultServeMux.
func Register(app *handler.App) {
	secureAPI := middleware.Chain(
		middleware.SecurityHeaders(),
		middleware.CORS(),
		middleware.RequestID(),
	)

	// Upload rate limiter: 10 uploads per minute per IP.
	uploadRL := middleware.NewRateLimiter(10, 1*time.Minute)

	secure := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(h)
	}
	secureRL := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(uploadRL.Limit()(h))
	}

	// ── Estimates ──
	http.HandleFunc("/api/estimates/upload", secureRL(handler.HandleEstimateUpload(app)))
	http.HandleFunc("/api/estimates/", secure(handler.HandleEstimateByID(app)))
	http.HandleFunc("/api/estimates", secure(handler.HandleEstimates(app)))

	// ── Chunk proxy ──
	// CORS only: the chunk handler owns its cache headers.
	http.HandleFunc("/chunks", middleware.CORS()(handler.HandleChunk(app)))

	// ── Config ──
	http.HandleFunc("/api/config", secure(handler.HandleConfig(app)))

	// ── System ──
	http.HandleFunc("/api/system/status", secure(handler.HandleSystemStatus(app)))

	// ── Health check ──
	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
