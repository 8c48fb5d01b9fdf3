package cmd

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

const maxRequestBody = 1 << 20

// DownloadRequest is the body of POST /api/downloads.
type DownloadRequest struct {
	URL string `json:"url"`
}

// newAPIHandler routes the control API onto svc.
func newAPIHandler(svc core.DownloadService) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		h, err := svc.Health()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	})

	mux.HandleFunc("GET /api/downloads", func(w http.ResponseWriter, r *http.Request) {
		statuses, err := svc.List()
		if err != nil {
			writeError(w, err)
			return
		}
		if statuses == nil {
			statuses = []types.DownloadStatus{}
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	mux.HandleFunc("POST /api/downloads", func(w http.ResponseWriter, r *http.Request) {
		handleCreate(w, r, svc)
	})

	mux.HandleFunc("DELETE /api/downloads", func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.DeleteAll()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	})

	mux.HandleFunc("DELETE /api/downloads/completed", func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.DeleteCompleted()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	})

	mux.HandleFunc("GET /api/downloads/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.GetStatus(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("DELETE /api/downloads/{id}", action(svc.Delete, "deleted"))
	mux.HandleFunc("POST /api/downloads/{id}/pause", action(svc.Pause, "paused"))
	mux.HandleFunc("POST /api/downloads/{id}/resume", action(svc.Resume, "resumed"))
	mux.HandleFunc("POST /api/downloads/{id}/open", action(svc.Open, "opened"))

	return corsMiddleware(mux)
}

// action adapts a per-download command to a handler replying with the
// download id and the given status word.
func action(fn func(id string) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := fn(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": done, "id": id})
	}
}

func handleCreate(w http.ResponseWriter, r *http.Request, svc core.DownloadService) {
	defer func() { _ = r.Body.Close() }()

	var req DownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	utils.Debug("Received download request: URL=%s", req.URL)
	status, err := svc.Add(req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("Failed to write response: %v", err)
	}
}

// writeError maps engine errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrIllegalTransition), errors.Is(err, types.ErrNotCompleted):
		code = http.StatusConflict
	case errors.Is(err, types.ErrInvalidURL):
		code = http.StatusBadRequest
	default:
		utils.Debug("API error: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// startHTTPServer serves the control API on an existing listener until the
// returned server is shut down.
func startHTTPServer(ln net.Listener, svc core.DownloadService) *http.Server {
	server := &http.Server{
		Handler:           newAPIHandler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Debug("HTTP server error: %v", err)
		}
	}()
	return server
}
