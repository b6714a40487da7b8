package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vmplane/pkg/api"
)

// VMClient handles API calls to the vmplane controller.
type VMClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewVMClient creates a new client with the given base URL.
func NewVMClient(baseURL string) *VMClient {
	return &VMClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *VMClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Submit sends POST /requests to enqueue a VM execution request.
func (c *VMClient) Submit(req api.SubmitRequest) (*api.SubmitResponse, error) {
	var result api.SubmitResponse
	if err := c.do(http.MethodPost, "/requests", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRequest sends GET /requests/{id}.
func (c *VMClient) GetRequest(requestID string) (*api.RequestResponse, error) {
	var result api.RequestResponse
	if err := c.do(http.MethodGet, "/requests/"+requestID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRequests sends GET /requests with optional status filter.
func (c *VMClient) ListRequests(status string, limit int) ([]api.RequestResponse, error) {
	path := fmt.Sprintf("/requests?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}
	var result api.ListRequestsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Requests, nil
}

// UpdateStatus sends PUT /requests/{id}/status.
func (c *VMClient) UpdateStatus(requestID, status string) (*api.RequestResponse, error) {
	var result api.RequestResponse
	err := c.do(http.MethodPut, "/requests/"+requestID+"/status",
		api.UpdateStatusRequest{Status: status}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLogs sends GET /requests/{id}/logs with the position cursor.
func (c *VMClient) GetLogs(requestID string, since int64, category string) (*api.LogsResponse, error) {
	path := fmt.Sprintf("/requests/%s/logs?since=%d", requestID, since)
	if category != "" {
		path += "&category=" + category
	}
	var result api.LogsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteRequest sends DELETE /requests/{id}.
func (c *VMClient) DeleteRequest(requestID string) error {
	return c.do(http.MethodDelete, "/requests/"+requestID, nil, nil)
}

// GetStats sends GET /stats.
func (c *VMClient) GetStats() (*api.QueueStatsResponse, error) {
	var result api.QueueStatsResponse
	if err := c.do(http.MethodGet, "/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
