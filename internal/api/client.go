package api

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
)

// Client talks to a triad daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Error is a non-2xx API response.
type Error struct {
	Status    int
	Body      ErrorBody
	RequestID string
}

func (e *Error) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api: %s: %s", e.Body.Code, e.Body.Message)
}

// NewClient builds a client for baseURL. A nil httpClient uses a default
// with a generous timeout for chunk uploads.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    httpClient,
	}
}

// CreateMergeSession declares a merge session and its three statements.
func (c *Client) CreateMergeSession(ctx context.Context, req InitiateMergeRequest) (*MergeSessionCreated, error) {
	var out MergeSessionCreated
	if err := c.doJSON(ctx, http.MethodPost, "/api/merge-sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MergeSession fetches a merge session's aggregate status.
func (c *Client) MergeSession(ctx context.Context, id string) (*MergeSessionStatus, error) {
	var out MergeSessionStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/merge-sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutChunk sends one chunk with its SHA-256 hex digest.
func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, data []byte, sha string) (*ChunkReceipt, error) {
	path := "/api/uploads/" + url.PathEscape(uploadID) + "/chunks/" + strconv.Itoa(index)
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if sha != "" {
		req.Header.Set("X-Chunk-SHA256", sha)
	}
	var out ChunkReceipt
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteUpload finalizes an upload, optionally checking the whole-file hash.
func (c *Client) CompleteUpload(ctx context.Context, uploadID, sha string) (*UploadSession, error) {
	var out UploadSession
	path := "/api/uploads/" + url.PathEscape(uploadID) + "/complete"
	if err := c.doJSON(ctx, http.MethodPost, path, CompleteUploadRequest{SHA256: sha}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelUpload cancels an open upload session.
func (c *Client) CancelUpload(ctx context.Context, uploadID string) (*UploadSession, error) {
	var out UploadSession
	if err := c.doJSON(ctx, http.MethodDelete, "/api/uploads/"+url.PathEscape(uploadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Segments resolves an artifact's streaming URL and statement boundaries.
// A zero ttl leaves the daemon's default URL lifetime.
func (c *Client) Segments(ctx context.Context, artifactID string, ttl time.Duration) (*ArtifactSegments, error) {
	path := "/api/artifacts/" + url.PathEscape(artifactID) + "/segments"
	if ttl > 0 {
		path += "?ttl_seconds=" + strconv.Itoa(int(ttl/time.Second))
	}
	var out ArtifactSegments
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches daemon runtime status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		var payload ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil {
			apiErr.Body = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
