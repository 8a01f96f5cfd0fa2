package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"costgrid/internal/errlog"
	"costgrid/internal/queue"
	"costgrid/internal/registry"
)

// SupportedExtensions lists workbook file extensions that can be ingested.
var SupportedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
}

// HandleEstimateUpload accepts a workbook upload and queues it for
// ingestion. The response is 202 with the estimate id; processing status is
// polled through the progress endpoint.
func HandleEstimateUpload(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		cfg := app.configManager.Get()
		if cfg == nil {
			WriteError(w, http.StatusInternalServerError, "config not loaded")
			return
		}
		maxUpload := int64(cfg.Server.MaxUploadMB)<<20 + 10<<20 // file limit + form overhead
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteError(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "missing file in upload")
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		ext := strings.ToLower(filepath.Ext(name))
		if !SupportedExtensions[ext] {
			WriteError(w, http.StatusBadRequest, "unsupported file type: "+ext)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if len(data) == 0 {
			WriteError(w, http.StatusBadRequest, "empty file")
			return
		}

		id, err := registry.NewID()
		if err != nil {
			errlog.Logf("[Upload] id generation failed: %v", err)
			WriteError(w, http.StatusInternalServerError, "failed to create estimate")
			return
		}
		if err := app.registry.Insert(id, name); err != nil {
			errlog.Logf("[Upload] registry insert failed: %v", err)
			WriteError(w, http.StatusInternalServerError, "failed to create estimate")
			return
		}

		if !app.runner.Enqueue(queue.Job{EstimateID: id, FileName: name, Data: data}) {
			app.registry.MarkFailed(id, errors.New("ingestion queue full"))
			WriteError(w, http.StatusServiceUnavailable, "ingestion queue full, retry later")
			return
		}

		log.Printf("[Upload] queued %s (%s, %d bytes)", id, name, len(data))
		WriteJSON(w, http.StatusAccepted, map[string]string{
			"id":     id,
			"status": registry.StatusProcessing,
		})
	}
}

// HandleEstimates returns the list of tracked estimates, newest first.
func HandleEstimates(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		estimates, err := app.registry.List()
		if err != nil {
			log.Printf("[Estimates] list error: %v", err)
			WriteError(w, http.StatusInternalServerError, "failed to list estimates")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"estimates": estimates})
	}
}

// HandleEstimateByID serves /api/estimates/{id} and
// /api/estimates/{id}/progress.
func HandleEstimateByID(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/estimates/")
		id, sub, _ := strings.Cut(rest, "/")
		if !IsValidID(id) || (sub != "" && sub != "progress") {
			WriteError(w, http.StatusBadRequest, "invalid estimate id")
			return
		}

		est, err := app.registry.Get(id)
		if errors.Is(err, registry.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "estimate not found")
			return
		}
		if err != nil {
			log.Printf("[Estimates] get %s error: %v", id, err)
			WriteError(w, http.StatusInternalServerError, "failed to load estimate")
			return
		}

		if sub == "progress" {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"id":       est.ID,
				"status":   est.Status,
				"progress": est.Progress,
				"message":  est.Message,
				"error":    est.Error,
			})
			return
		}
		WriteJSON(w, http.StatusOK, est)
	}
}
