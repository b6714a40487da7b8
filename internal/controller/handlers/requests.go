package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"vmplane/internal/store"
	"vmplane/pkg/api"
)

// SubmitRequest handles POST /requests.
// It validates and enqueues a new VM execution request.
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = h.defaultTimeout
	}

	created, err := h.store.Submit(ctx, req.VMName, req.Commands, timeout)
	if err != nil {
		h.storeError(w, err, "Failed to submit request")
		return
	}

	h.respondJson(w, http.StatusCreated, api.SubmitResponse{
		RequestID: created.ID.String(),
		Status:    string(created.Status),
	})
}

// GetRequest handles GET /requests/{id}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	req, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "Failed to load request")
		return
	}

	h.respondJson(w, http.StatusOK, requestToAPI(req))
}

// ListRequests handles GET /requests with optional ?status= and ?limit=.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	var status store.RequestStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := store.ParseStatus(s)
		if err != nil {
			h.httpError(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
		status = parsed
	}

	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		h.httpError(w, "Limit must be between 1 and 500", http.StatusBadRequest)
		return
	}

	reqs, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		h.storeError(w, err, "Failed to list requests")
		return
	}

	resp := api.ListRequestsResponse{Requests: make([]api.RequestResponse, 0, len(reqs))}
	for i := range reqs {
		resp.Requests = append(resp.Requests, requestToAPI(&reqs[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// externalTransitions lists the status changes an API caller may force.
// Claiming and finalizing belong to agents; done is never set externally.
var externalTransitions = map[store.RequestStatus][]store.RequestStatus{
	store.StatusCancelled: {store.StatusPending, store.StatusAcknowledged, store.StatusRunning, store.StatusHold},
	store.StatusHold:      {store.StatusPending, store.StatusAcknowledged, store.StatusRunning},
	store.StatusPending:   {store.StatusHold},
}

// UpdateStatus handles PUT /requests/{id}/status.
// Supported moves: cancel (any non-terminal), hold, and release back to
// pending. A running VM is stopped by its supervisor shortly after.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	var body api.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	next, err := store.ParseStatus(body.Status)
	if err != nil {
		h.httpError(w, "Invalid target status", http.StatusBadRequest)
		return
	}
	allowedFrom, ok := externalTransitions[next]
	if !ok {
		h.httpError(w, "Status cannot be set externally", http.StatusBadRequest)
		return
	}

	expected := store.RequestStatus(body.Expected)
	if expected == "" {
		cur, err := h.store.Get(ctx, id)
		if err != nil {
			h.storeError(w, err, "Failed to load request")
			return
		}
		expected = cur.Status
	} else if _, err := store.ParseStatus(body.Expected); err != nil {
		h.httpError(w, "Invalid expected status", http.StatusBadRequest)
		return
	}

	if !contains(allowedFrom, expected) {
		h.httpError(w, "Transition not allowed from "+string(expected), http.StatusConflict)
		return
	}

	if err := h.store.Transition(ctx, id, expected, next); err != nil {
		h.storeError(w, err, "Failed to update status")
		return
	}

	req, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, err, "Failed to load request")
		return
	}
	h.respondJson(w, http.StatusOK, requestToAPI(req))
}

// DeleteRequest handles DELETE /requests/{id}.
// The request's work log partition is removed with it. Non-terminal
// requests must be cancelled first.
func (h *Handlers) DeleteRequest(w http.ResponseWriter, r *http.Request) {
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
	if !req.Status.Terminal() && req.Status != store.StatusHold {
		h.httpError(w, "Cannot delete an active request", http.StatusConflict)
		return
	}

	if err := h.store.Delete(ctx, id); err != nil {
		h.storeError(w, err, "Failed to delete request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueStats handles GET /stats.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		h.storeError(w, err, "Failed to count requests")
		return
	}

	resp := api.QueueStatsResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}
	h.respondJson(w, http.StatusOK, resp)
}

func contains(statuses []store.RequestStatus, s store.RequestStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
