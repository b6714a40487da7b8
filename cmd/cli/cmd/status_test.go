package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"vmplane/pkg/api"
)

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	exitCode := 0
	agent := "agent-1"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/requests/req-123") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		resp := api.RequestResponse{
			ID:             "req-123",
			VMName:         "ubuntu-base",
			Commands:       "echo hi",
			TimeoutSeconds: 120,
			Status:         "done",
			ClaimedBy:      &agent,
			ExitCode:       &exitCode,
			CreatedAt:      time.Now().Add(-10 * time.Minute),
			UpdatedAt:      time.Now().Add(-9 * time.Minute),
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	out := runCommand(t, "status", "req-123")
	for _, want := range []string{"req-123", "ubuntu-base", "done", "agent-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_ShowsFailure(t *testing.T) {
	resetViper()

	failure := "InactivityTimeout"
	code := -1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := api.RequestResponse{
			ID:        "req-456",
			VMName:    "ubuntu-base",
			Status:    "cancelled",
			ExitCode:  &code,
			Failure:   &failure,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	out := runCommand(t, "status", "req-456")
	if !strings.Contains(out, "InactivityTimeout") {
		t.Errorf("output missing failure reason:\n%s", out)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Request not found", Code: "404"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	out := runCommand(t, "status", "req-missing")
	if !strings.Contains(out, "Failed to fetch request") {
		t.Errorf("expected failure message, got: %s", out)
	}
}
