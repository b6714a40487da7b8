package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"vmplane/internal/store"
	"vmplane/internal/store/memory"
	"vmplane/pkg/api"
)

func newTestHandlers() (*Handlers, *memory.Store) {
	st := memory.New(store.Limits{MaxConcurrentVMs: 4, MaxTimeoutSeconds: 3600})
	return New(st, 300), st
}

func submitOne(t *testing.T, st *memory.Store) *store.Request {
	t.Helper()
	req, err := st.Submit(context.Background(), "ubuntu-base", "echo hi", 60)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return req
}

func TestSubmitRequest(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           `{"vm_name": "ubuntu-base", "commands": "echo hi", "timeout_seconds": 60}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "request_id",
		},
		{
			name:           "Default Timeout Applied",
			body:           `{"vm_name": "ubuntu-base", "commands": "echo hi"}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "pending",
		},
		{
			name:           "Invalid JSON",
			body:           `{invalid-json}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Empty VM Name",
			body:           `{"vm_name": "", "commands": "echo hi"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Empty Commands",
			body:           `{"vm_name": "ubuntu-base", "commands": "  "}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Negative Timeout",
			body:           `{"vm_name": "ubuntu-base", "commands": "echo hi", "timeout_seconds": -5}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Timeout Above Ceiling",
			body:           `{"vm_name": "ubuntu-base", "commands": "echo hi", "timeout_seconds": 999999}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandlers()
			req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			h.SubmitRequest(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.expectedStatus, rec.Body.String())
			}
			if tt.expectedInBody != "" && !strings.Contains(rec.Body.String(), tt.expectedInBody) {
				t.Fatalf("body %q missing %q", rec.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestSubmitRequestAppliesDefaultTimeout(t *testing.T) {
	h, st := newTestHandlers()

	body := `{"vm_name": "ubuntu-base", "commands": "echo hi"}`
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.SubmitRequest(rec, req)

	var resp api.SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := uuid.Parse(resp.RequestID)
	stored, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.TimeoutSeconds != 300 {
		t.Fatalf("timeout = %d, want default 300", stored.TimeoutSeconds)
	}
}

func TestGetRequest(t *testing.T) {
	h, st := newTestHandlers()
	created := submitOne(t, st)

	tests := []struct {
		name           string
		id             string
		expectedStatus int
	}{
		{"Found", created.ID.String(), http.StatusOK},
		{"Not Found", uuid.NewString(), http.StatusNotFound},
		{"Invalid ID", "not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/requests/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rec := httptest.NewRecorder()

			h.GetRequest(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.expectedStatus)
			}
		})
	}
}

func TestListRequestsFiltersByStatus(t *testing.T) {
	h, st := newTestHandlers()
	submitOne(t, st)
	submitOne(t, st)
	claimed, err := st.ClaimNext(context.Background(), "agent-1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/requests?status=pending", nil)
	rec := httptest.NewRecorder()
	h.ListRequests(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp api.ListRequestsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Requests) != 1 {
		t.Fatalf("pending count = %d, want 1", len(resp.Requests))
	}
	if resp.Requests[0].Status != string(store.StatusPending) {
		t.Fatalf("status = %s", resp.Requests[0].Status)
	}
}

func TestListRequestsRejectsBadFilter(t *testing.T) {
	h, _ := newTestHandlers()

	req := httptest.NewRequest(http.MethodGet, "/requests?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.ListRequests(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/requests?limit=0", nil)
	rec = httptest.NewRecorder()
	h.ListRequests(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(t *testing.T, st *memory.Store, id uuid.UUID)
		body           string
		expectedStatus int
		finalStatus    store.RequestStatus
	}{
		{
			name:           "Cancel Pending",
			body:           `{"status": "cancelled"}`,
			expectedStatus: http.StatusOK,
			finalStatus:    store.StatusCancelled,
		},
		{
			name:           "Hold Pending",
			body:           `{"status": "hold"}`,
			expectedStatus: http.StatusOK,
			finalStatus:    store.StatusHold,
		},
		{
			name: "Release Hold",
			setup: func(t *testing.T, st *memory.Store, id uuid.UUID) {
				if err := st.Transition(context.Background(), id, store.StatusPending, store.StatusHold); err != nil {
					t.Fatalf("setup hold: %v", err)
				}
			},
			body:           `{"status": "pending"}`,
			expectedStatus: http.StatusOK,
			finalStatus:    store.StatusPending,
		},
		{
			name:           "Done Not Settable Externally",
			body:           `{"status": "done"}`,
			expectedStatus: http.StatusBadRequest,
			finalStatus:    store.StatusPending,
		},
		{
			name:           "Release Without Hold",
			body:           `{"status": "pending"}`,
			expectedStatus: http.StatusConflict,
			finalStatus:    store.StatusPending,
		},
		{
			name: "Cancel Already Done",
			setup: func(t *testing.T, st *memory.Store, id uuid.UUID) {
				if _, err := st.ClaimNext(context.Background(), "agent-1"); err != nil {
					t.Fatalf("claim: %v", err)
				}
				if err := st.Transition(context.Background(), id, store.StatusAcknowledged, store.StatusRunning); err != nil {
					t.Fatalf("run: %v", err)
				}
				code := 0
				if err := st.Finalize(context.Background(), id, store.StatusRunning, store.StatusDone, &code, ""); err != nil {
					t.Fatalf("finalize: %v", err)
				}
			},
			body:           `{"status": "cancelled"}`,
			expectedStatus: http.StatusConflict,
			finalStatus:    store.StatusDone,
		},
		{
			name:           "Stale Expected Guard",
			body:           `{"expected": "running", "status": "cancelled"}`,
			expectedStatus: http.StatusConflict,
			finalStatus:    store.StatusPending,
		},
		{
			name:           "Invalid Target",
			body:           `{"status": "exploded"}`,
			expectedStatus: http.StatusBadRequest,
			finalStatus:    store.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st := newTestHandlers()
			created := submitOne(t, st)
			if tt.setup != nil {
				tt.setup(t, st, created.ID)
			}

			req := httptest.NewRequest(http.MethodPut, "/requests/"+created.ID.String()+"/status", bytes.NewBufferString(tt.body))
			req.SetPathValue("id", created.ID.String())
			rec := httptest.NewRecorder()

			h.UpdateStatus(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.expectedStatus, rec.Body.String())
			}
			got, err := st.Get(context.Background(), created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != tt.finalStatus {
				t.Fatalf("final status = %s, want %s", got.Status, tt.finalStatus)
			}
		})
	}
}

func TestDeleteRequest(t *testing.T) {
	h, st := newTestHandlers()
	created := submitOne(t, st)
	if _, err := st.Append(context.Background(), created.ID, store.LogBoot, "Starting VM: ubuntu-base"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Pending is active: refuse.
	req := httptest.NewRequest(http.MethodDelete, "/requests/"+created.ID.String(), nil)
	req.SetPathValue("id", created.ID.String())
	rec := httptest.NewRecorder()
	h.DeleteRequest(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete active status = %d, want 409", rec.Code)
	}

	if err := st.Transition(context.Background(), created.ID, store.StatusPending, store.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/requests/"+created.ID.String(), nil)
	req.SetPathValue("id", created.ID.String())
	rec = httptest.NewRecorder()
	h.DeleteRequest(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}

	if _, err := st.Get(context.Background(), created.ID); err == nil {
		t.Fatal("request still present after delete")
	}
	entries, err := st.Read(context.Background(), created.ID, 0, 10, "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work log survived delete: %d entries", len(entries))
	}
}

func TestGetLogs(t *testing.T) {
	h, st := newTestHandlers()
	created := submitOne(t, st)

	entries := []store.Appendable{
		{Category: store.LogBoot, Payload: "Starting VM: ubuntu-base"},
		{Category: store.LogBoot, Payload: "vm login:"},
		{Category: store.LogCommand, Payload: "echo hi"},
		{Category: store.LogStdout, Payload: "hi"},
	}
	if err := st.AppendBatch(context.Background(), created.ID, entries); err != nil {
		t.Fatalf("append batch: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/requests/"+created.ID.String()+"/logs", nil)
	req.SetPathValue("id", created.ID.String())
	rec := httptest.NewRecorder()
	h.GetLogs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp api.LogsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(resp.Entries))
	}
	if resp.NextSince != resp.Entries[3].Position {
		t.Fatalf("next_since = %d, want %d", resp.NextSince, resp.Entries[3].Position)
	}

	// Incremental read from the cursor returns nothing new.
	req = httptest.NewRequest(http.MethodGet,
		"/requests/"+created.ID.String()+"/logs?since="+jsonNumber(resp.NextSince), nil)
	req.SetPathValue("id", created.ID.String())
	rec = httptest.NewRecorder()
	h.GetLogs(rec, req)

	var tail api.LogsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tail.Entries) != 0 {
		t.Fatalf("tail entries = %d, want 0", len(tail.Entries))
	}
	if tail.NextSince != resp.NextSince {
		t.Fatalf("cursor moved on empty read: %d -> %d", resp.NextSince, tail.NextSince)
	}

	// Category filter.
	req = httptest.NewRequest(http.MethodGet, "/requests/"+created.ID.String()+"/logs?category=boot", nil)
	req.SetPathValue("id", created.ID.String())
	rec = httptest.NewRecorder()
	h.GetLogs(rec, req)

	var boot api.LogsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(boot.Entries) != 2 {
		t.Fatalf("boot entries = %d, want 2", len(boot.Entries))
	}
}

func TestDeleteLogs(t *testing.T) {
	h, st := newTestHandlers()
	created := submitOne(t, st)
	if _, err := st.Append(context.Background(), created.ID, store.LogBoot, "Starting VM: ubuntu-base"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A pending request may still produce log output: refuse.
	req := httptest.NewRequest(http.MethodDelete, "/requests/"+created.ID.String()+"/logs", nil)
	req.SetPathValue("id", created.ID.String())
	rec := httptest.NewRecorder()
	h.DeleteLogs(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("clear active status = %d, want 409", rec.Code)
	}

	if err := st.Transition(context.Background(), created.ID, store.StatusPending, store.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/requests/"+created.ID.String()+"/logs", nil)
	req.SetPathValue("id", created.ID.String())
	rec = httptest.NewRecorder()
	h.DeleteLogs(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}

	// The row survives with an empty log partition.
	if _, err := st.Get(context.Background(), created.ID); err != nil {
		t.Fatalf("request gone after log clear: %v", err)
	}
	entries, err := st.Read(context.Background(), created.ID, 0, 10, "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("log partition survived clear: %d entries", len(entries))
	}
}

func TestGetLogsUnknownRequest(t *testing.T) {
	h, _ := newTestHandlers()

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/requests/"+id+"/logs", nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.GetLogs(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	h, st := newTestHandlers()
	submitOne(t, st)
	submitOne(t, st)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.QueueStats(rec, req)

	var resp api.QueueStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Counts["pending"] != 2 {
		t.Fatalf("pending = %d, want 2", resp.Counts["pending"])
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
