// Package adapter speaks the sync adapter protocol: a small HTTP service
// exposing GET /health and POST /sync that performs the cloud upload
// sequence on behalf of a remote caller. Client calls such a service;
// Server is one.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// maxResponseBody caps how much of a response is read.
const maxResponseBody = 1 << 20

// Track is one audio item the adapter fetches and adds to a device.
type Track struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	CreativeTonieExternalID string  `json:"creativeTonieExternalId"`
	Tracks                  []Track `json:"tracks"`
}

// SyncResponse is the body POST /sync answers with, success or not.
type SyncResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ErrorDetails    string `json:"errorDetails,omitempty"`
	TracksProcessed int    `json:"tracksProcessed"`
}

func (r *SyncRequest) validate() error {
	if r.CreativeTonieExternalID == "" {
		return apperr.Invalid("adapter: creativeTonieExternalId is required")
	}

	if len(r.Tracks) == 0 {
		return apperr.Invalid("adapter: at least one track is required")
	}

	for i, t := range r.Tracks {
		if strings.TrimSpace(t.Title) == "" || t.SourceURL == "" {
			return apperr.Invalid("adapter: track %d needs a title and a sourceUrl", i)
		}
	}

	return nil
}

// Client calls a sync adapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a Client for the adapter at baseURL.
func NewClient(baseURL string, httpClient *http.Client, userAgent string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, userAgent: userAgent}
}

// Health checks that the adapter is up.
func (c *Client) Health(ctx context.Context) error {
	resp, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("adapter: GET /health: HTTP %d: %s: %w", resp.StatusCode, body, apperr.ErrRemoteProtocol)
	}

	return nil
}

// Sync asks the adapter to push tracks to a device. A structured failure
// from the adapter is returned as a response with Success false and a nil
// error; only transport and protocol problems are errors.
func (c *Client) Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("adapter: encoding request: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, "/sync", payload)
	if err != nil {
		return nil, err
	}

	var out SyncResponse

	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if decodeErr != nil {
			return nil, fmt.Errorf("adapter: decoding /sync response: %w: %w", apperr.ErrRemoteProtocol, decodeErr)
		}

		return &out, nil
	}

	if decodeErr == nil && !out.Success && (out.Message != "" || out.ErrorDetails != "") {
		return &out, nil
	}

	return nil, fmt.Errorf("adapter: POST /sync: HTTP %d: %s: %w", resp.StatusCode, body, apperr.ErrRemoteProtocol)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: building %s %s: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cerr := apperr.Cancelled(ctx); cerr != nil {
			return nil, nil, fmt.Errorf("adapter: %s %s: %w", method, path, cerr)
		}

		return nil, nil, fmt.Errorf("adapter: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: reading %s %s response: %w", method, path, err)
	}

	return resp, bytes.TrimSpace(data), nil
}
