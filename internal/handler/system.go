package handler

import (
	"net/http"
	"strconv"

	"costgrid/internal/errlog"
)

// HandleConfig serves the runtime configuration: GET returns the current
// values, PUT applies partial dotted-key updates.
func HandleConfig(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg := app.configManager.Get()
			if cfg == nil {
				WriteError(w, http.StatusInternalServerError, "config not loaded")
				return
			}
			WriteJSON(w, http.StatusOK, cfg)
		case http.MethodPut:
			var updates map[string]interface{}
			if err := ReadJSONBody(r, &updates); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if err := app.configManager.Update(updates); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			WriteJSON(w, http.StatusOK, app.configManager.Get())
		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleSystemStatus reports recent operational errors for the admin UI.
func HandleSystemStatus(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		n := 50
		if raw := r.URL.Query().Get("lines"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
				n = v
			}
		}
		lines, err := errlog.RecentLines(n)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read error log")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"errorLog":     errlog.Path(),
			"recentErrors": lines,
		})
	}
}
