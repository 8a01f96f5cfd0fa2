package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"costgrid/internal/store"
)

// chunkCacheControl marks chunk and asset objects as immutable: their keys
// are never rewritten, so clients and intermediaries may cache forever.
const chunkCacheControl = "public, max-age=31536000, immutable"

// HandleChunk proxies stored objects (manifest, chunks, assets) to clients,
// adding long-lived cache headers. The store stays private; this is the only
// read path.
func HandleChunk(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		key := r.URL.Query().Get("key")
		if !validObjectKey(key) {
			WriteError(w, http.StatusBadRequest, "invalid object key")
			return
		}

		rc, err := app.store.Get(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "object not found")
			return
		}
		if err != nil {
			log.Printf("[Chunks] get %q error: %v", key, err)
			WriteError(w, http.StatusBadGateway, "object store unavailable")
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", contentTypeForKey(key))
		w.Header().Set("Cache-Control", chunkCacheControl)
		if _, err := io.Copy(w, rc); err != nil {
			// Headers are gone; nothing to send the client beyond the log.
			log.Printf("[Chunks] stream %q aborted: %v", key, err)
		}
	}
}

// validObjectKey allows slash-separated relative keys and blocks traversal.
func validObjectKey(key string) bool {
	if key == "" || len(key) > 512 {
		return false
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '/' || c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
