// Package backend is a client for the hosted backend-as-a-service: its
// PostgREST table API under /rest/v1 and its object storage under
// /storage/v1.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
)

// Error is a non-2xx answer of the backend.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error: status %d", e.Code)
	}
	return fmt.Sprintf("backend error: status %d: %s", e.Code, e.Message)
}

// Client talks to one backend project with its anonymous key.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// New creates a client for the project at baseURL.
func New(baseURL, anonKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    httpClient,
	}
}

// Select reads the rows of table matching q into out, a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, q *Query, out any) error {
	data, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, q.encode(true), nil, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

// Insert adds row to table. When out is non-nil the stored rows are
// returned into it, a pointer to a slice.
func (c *Client) Insert(ctx context.Context, table string, row any, out any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}

	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	headers := http.Header{"Prefer": []string{prefer}}

	data, err := c.do(ctx, http.MethodPost, "/rest/v1/"+table, "", bytes.NewReader(payload), "application/json", headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode inserted %s rows: %w", table, err)
	}
	return nil
}

// Delete removes the rows of table matching q. An empty filter is refused.
func (c *Client) Delete(ctx context.Context, table string, q *Query) error {
	query := q.encode(false)
	if query == "" {
		return fmt.Errorf("delete from %s without filter", table)
	}
	_, err := c.do(ctx, http.MethodDelete, "/rest/v1/"+table, query, nil, "", nil)
	return err
}

// Upload stores body at path inside bucket.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.do(ctx, http.MethodPost, "/storage/v1/object/"+bucket+"/"+escapePath(path), "", body, contentType, nil)
	return err
}

// PublicURL returns the public address of an object.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + escapePath(path)
}

func (c *Client) do(ctx context.Context, method, path, query string, body io.Reader, contentType string, headers http.Header) ([]byte, error) {
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", "messenger-go")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Log.Warn("backend_request_failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	logger.Log.Debug("backend_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("headers", logger.SafeHeaders(req.Header)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage picks the human readable part of a PostgREST or storage error
// body.
func errorMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	for _, field := range []string{"message", "error", "msg", "hint"} {
		if v := gjson.GetBytes(data, field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
