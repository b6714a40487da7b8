package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"vmplane/internal/store"
	"vmplane/pkg/api"
)

// GetLogs handles GET /requests/{id}/logs.
// Supports incremental reads via ?since=<position> plus ?limit= and
// ?category= filters. next_since in the response is the cursor for the
// next poll.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	// Reads of an unknown request must 404 rather than return an empty log.
	if _, err := h.store.Get(ctx, id); err != nil {
		h.storeError(w, err, "Failed to load request")
		return
	}

	since := parseInt64Query(r, "since", 0)
	if since < 0 {
		h.httpError(w, "since must not be negative", http.StatusBadRequest)
		return
	}

	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		h.httpError(w, "Limit must be between 1 and 5000", http.StatusBadRequest)
		return
	}

	var category store.LogCategory
	if c := r.URL.Query().Get("category"); c != "" {
		parsed, err := store.ParseCategory(c)
		if err != nil {
			h.httpError(w, "Invalid category filter", http.StatusBadRequest)
			return
		}
		category = parsed
	}

	entries, err := h.store.Read(ctx, id, since, limit, category)
	if err != nil {
		h.storeError(w, err, "Failed to read logs")
		return
	}

	resp := api.LogsResponse{
		RequestID: id.String(),
		Entries:   make([]api.LogEntryResponse, 0, len(entries)),
		NextSince: since,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, api.LogEntryResponse{
			Position:  e.Position,
			Category:  string(e.Category),
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
		if e.Position > resp.NextSince {
			resp.NextSince = e.Position
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// DeleteLogs handles DELETE /requests/{id}/logs.
// It clears the request's log partition while keeping the request row, so
// a finished request can be kept around without its output.
func (h *Handlers) DeleteLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	req, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, err, "Failed to load request")
		return
	}
	// A supervisor may still be appending to an active request's log.
	if !req.Status.Terminal() && req.Status != store.StatusHold {
		h.httpError(w, "Cannot clear logs of an active request", http.StatusConflict)
		return
	}

	if err := h.store.DeleteAll(ctx, id); err != nil {
		h.storeError(w, err, "Failed to delete logs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func parseInt64Query(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return v
}
