package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/api/dto"
)

const tokenHeader = "X-Service-Token"

// Client calls the fanout publisher HTTP API
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Submit sends POST /api/v1/submissions. The status code tells a new job (202) from an existing one (200).
func (c *Client) Submit(ctx context.Context, req dto.SubmitRequest) (*dto.SubmitResponse, error) {
	var out dto.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status sends GET /api/v1/submissions/{id}
func (c *Client) Status(ctx context.Context, submissionID string) (*dto.JobDTO, error) {
	var out dto.JobDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(submissionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry sends POST /api/v1/submissions/{id}/retry
func (c *Client) Retry(ctx context.Context, submissionID string) (*dto.RetryResponse, error) {
	var out dto.RetryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions/"+url.PathEscape(submissionID)+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlatformStatus sends GET /api/v1/submissions/{id}/platform-status
func (c *Client) PlatformStatus(ctx context.Context, submissionID string) (*dto.PlatformStatusResponse, error) {
	var out dto.PlatformStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(submissionID)+"/platform-status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List sends GET /api/v1/submissions
func (c *Client) List(ctx context.Context, req dto.ListJobsRequest) (*dto.ListJobsResponse, error) {
	q := url.Values{}
	for key, value := range map[string]string{
		"video_hash": req.VideoHash,
		"platform":   req.Platform,
		"status":     req.Status,
		"cursor":     req.Cursor,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	if req.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(req.PageSize))
	}

	path := "/api/v1/submissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out dto.ListJobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(tokenHeader, c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field of a JSON error body
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(body))
	}
	if payload.Details != "" {
		return payload.Error + ": " + payload.Details
	}
	return payload.Error
}
