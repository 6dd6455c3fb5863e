// Package api exposes the daemon's HTTP surface: a message-envelope
// endpoint mirroring the extension's storage protocol, direct status
// endpoints, and an MCP server for agent tooling.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 10 << 20 // 10MB; session blobs carry timelines

// HandlerDeps holds dependencies for the HTTP handler.
type HandlerDeps struct {
	Router  *Router
	Monitor Monitor
	Token   string // optional; non-empty enables bearer auth on /api
}

// NewHandler builds the daemon's HTTP routes.
func NewHandler(deps HandlerDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/message", handleMessage(deps))
		r.Get("/status", handleStatus(deps))
		r.Post("/status/check", handleStatusCheck(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleMessage(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   fmt.Sprintf("invalid request body: %v", err),
			})
			return
		}
		if req.Type == "" {
			writeEnvelope(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "type is required",
			})
			return
		}

		writeEnvelope(w, http.StatusOK, deps.Router.Dispatch(r.Context(), req))
	}
}

func handleStatus(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Monitor.Status(r.Context())
		if err != nil {
			writeEnvelope(w, http.StatusInternalServerError, Response{
				Success: false,
				Error:   fmt.Sprintf("reading status: %v", err),
			})
			return
		}
		writeEnvelope(w, http.StatusOK, Response{Success: true, Data: status})
	}
}

func handleStatusCheck(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Monitor.CheckNow(r.Context())
		if err != nil {
			writeEnvelope(w, http.StatusInternalServerError, Response{
				Success: false,
				Error:   fmt.Sprintf("health check failed: %v", err),
			})
			return
		}
		writeEnvelope(w, http.StatusOK, Response{Success: true, Data: status})
	}
}

func writeEnvelope(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
