package handlers

import (
	"net/http"

	"vmplane/pkg/api"
)

// Health handles GET /healthz. It reports unhealthy when the store is
// unreachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondJson(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unhealthy"})
		return
	}
	h.respondJson(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}
