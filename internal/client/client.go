// Package client talks to a running Kioku server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// DefaultURL is the server address used when none is given.
const DefaultURL = "http://localhost:8080"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for the Kioku API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL. An empty baseURL uses DefaultURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Query asks a question with the prior conversation. When the server could not generate an
// answer the returned error wraps models.ErrGenerationUnavailable.
func (c *Client) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/query", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusInternalServerError {
		var failure models.FailureResponse
		if json.Unmarshal(body, &failure) == nil && failure.Response == models.GenerationFailureMessage {
			return nil, fmt.Errorf("%w: %s", models.ErrGenerationUnavailable, failure.Response)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}
	var out models.QueryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// AddNote submits text for ingestion and returns the id of the ingestion run.
func (c *Client) AddNote(ctx context.Context, text string) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/notes", &models.NoteInput{Text: text}, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// ListNotes returns every stored note.
func (c *Client) ListNotes(ctx context.Context) ([]*models.Note, error) {
	var notes []*models.Note
	if err := c.call(ctx, http.MethodGet, "/api/v1/notes", nil, http.StatusOK, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote returns one note.
func (c *Client) GetNote(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	if err := c.call(ctx, http.MethodGet, "/api/v1/notes/"+url.PathEscape(id), nil, http.StatusOK, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// DeleteNote deletes a note and its vector.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/notes/"+url.PathEscape(id), nil, http.StatusOK, nil)
}

// SearchNotes runs a keyword, semantic or hybrid search over notes. An empty mode means hybrid.
func (c *Client) SearchNotes(ctx context.Context, query string, limit int, mode string, fuzzy bool) (*models.NoteSearchResponse, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if mode != "" {
		params.Set("mode", mode)
	}
	if fuzzy {
		params.Set("fuzzy", "true")
	}
	var out models.NoteSearchResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/notes/search?"+params.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns a workflow run with its step log.
func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, http.StatusOK, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RetryRun re-queues a failed run.
func (c *Client) RetryRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.call(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/retry", nil, http.StatusAccepted, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// WaitForRun polls a run until it reaches a terminal status or ctx is done.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (*models.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status returns the server's status report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Notes            int64                      `json:"notes"`
	Vectors          int                        `json:"vectors"`
	Runs             map[models.RunStatus]int64 `json:"runs"`
	KeywordDocuments *uint64                    `json:"keyword_documents,omitempty"`
	InboxDirectories []string                   `json:"inbox_directories,omitempty"`
	DiskUsageBytes   *int64                     `json:"disk_usage_bytes,omitempty"`
	Config           map[string]interface{}     `json:"config,omitempty"`
}

func (c *Client) call(ctx context.Context, method, path string, in interface{}, wantStatus int, out interface{}) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}
