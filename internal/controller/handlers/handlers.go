// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"vmplane/internal/store"
	"vmplane/pkg/api"
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store store.Store

	// defaultTimeout is applied to submissions that omit timeout_seconds.
	defaultTimeout int
}

// New creates a new Handlers instance with the given store dependency.
func New(s store.Store, defaultTimeoutSeconds int) *Handlers {
	return &Handlers{store: s, defaultTimeout: defaultTimeoutSeconds}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// storeError maps store sentinel errors to HTTP responses.
func (h *Handlers) storeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Request not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		h.httpError(w, "Request status changed concurrently", http.StatusConflict)
	case errors.Is(err, store.ErrValidation):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	default:
		h.httpError(w, fallback, http.StatusInternalServerError)
	}
}

func requestToAPI(r *store.Request) api.RequestResponse {
	resp := api.RequestResponse{
		ID:             r.ID.String(),
		VMName:         r.VMName,
		Commands:       r.Commands,
		TimeoutSeconds: r.TimeoutSeconds,
		Status:         string(r.Status),
		ClaimedBy:      r.ClaimedBy,
		ExitCode:       r.ExitCode,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		HeartbeatAt:    r.HeartbeatAt,
	}
	if r.Failure != nil {
		failure := string(*r.Failure)
		resp.Failure = &failure
	}
	return resp
}
