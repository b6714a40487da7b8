package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"vmplane/pkg/api"
)

func TestSubmitCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/requests" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.VMName != "ubuntu-base" || req.Commands != "echo hi" || req.TimeoutSeconds != 120 {
			t.Errorf("unexpected body: %+v", req)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.SubmitResponse{RequestID: "req-123", Status: "pending"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	out := runCommand(t, "submit", "--vm", "ubuntu-base", "--commands", "echo hi", "--timeout", "120")
	if !strings.Contains(out, "req-123") {
		t.Errorf("output missing request id: %s", out)
	}
}

func TestSubmitCommand_MissingFlags(t *testing.T) {
	resetViper()
	submitVM, submitCmds = "", ""

	out := runCommand(t, "submit")
	if !strings.Contains(out, "required") {
		t.Errorf("expected required flag message, got: %s", out)
	}
}

func TestSubmitCommand_APIErrorIsReported(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "timeout 999999s exceeds maximum", Code: "400"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	out := runCommand(t, "submit", "--vm", "ubuntu-base", "--commands", "echo hi", "--timeout", "999999")
	if !strings.Contains(out, "Submit failed") {
		t.Errorf("expected failure message, got: %s", out)
	}
}
